package audit

import (
	"net"
	"os"
)

// RequestContext is captured once per request and stamped on every event the request writes.
type RequestContext struct {
	SessionID  string
	ClientIP   string
	ServerIP   string
	ServerName string
	RequestURI string
}

// SystemContext describes background jobs that run outside any HTTP request.
func SystemContext(job string) RequestContext {
	host, _ := os.Hostname()
	return RequestContext{
		ServerName: host,
		ServerIP:   firstLocalIP(),
		RequestURI: job,
	}
}

func firstLocalIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		if ipn, ok := a.(*net.IPNet); ok && !ipn.IP.IsLoopback() && ipn.IP.To4() != nil {
			return ipn.IP.String()
		}
	}
	return ""
}
