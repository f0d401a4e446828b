package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	httpSubsystem     = "http"
	DefaultMetricPath = "/metrics"
	// RefererKey lets the catalog tag requests with the page that issued them.
	RefererKey = "X-Referer"
)

var (
	reqCnt = &Metric{
		Name:        "req_total",
		Description: "How many HTTP requests processed, partitioned by status code, method and route.",
		Type:        TypeCounterVec,
		Args:        []string{"code", "method", "route", "ref"},
	}
	reqDur = &Metric{
		Name:        "req_dur_ms",
		Description: "The HTTP request latencies in milliseconds.",
		Type:        TypeHistogramVec,
		Args:        []string{"code", "method", "route", "ref"},
	}
	resSz = &Metric{
		Name:        "resp_sz_bytes",
		Description: "The HTTP response sizes in bytes.",
		Type:        TypeSummaryVec,
		Args:        []string{"code", "method", "route", "ref"},
	}
	reqSz = &Metric{
		Name:        "req_sz_bytes",
		Description: "The HTTP request sizes in bytes.",
		Type:        TypeSummaryVec,
		Args:        []string{"code", "method", "route", "ref"},
	}
)

type HTTPOptions struct {
	// Registry defaults to the prometheus default registry.
	Registry *prometheus.Registry
	// RouteLabel maps a request to the route label. Defaults to the gin route template, which
	// keeps payment identifiers in query strings and paths out of the label set.
	RouteLabel func(c *gin.Context) string
}

// HTTP instruments gin requests and exposes the scrape handler.
type HTTP struct {
	reqCnt       *prometheus.CounterVec
	reqDur       *prometheus.HistogramVec
	reqSz, resSz *prometheus.SummaryVec
	routeLabel   func(c *gin.Context) string
	gatherer     prometheus.Gatherer
}

func routeTemplate(c *gin.Context) string {
	if fp := c.FullPath(); fp != "" {
		return fp
	}
	return "unmatched"
}

func NewHTTP(opts HTTPOptions) (*HTTP, error) {
	var (
		reg      prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if opts.Registry != nil {
		reg, gatherer = opts.Registry, opts.Registry
	}
	h := &HTTP{routeLabel: opts.RouteLabel, gatherer: gatherer}
	if h.routeLabel == nil {
		h.routeLabel = routeTemplate
	}
	for _, def := range []*Metric{reqCnt, reqDur, resSz, reqSz} {
		c, err := register(reg, def, httpSubsystem)
		if err != nil {
			return nil, err
		}
		switch def {
		case reqCnt:
			h.reqCnt = c.(*prometheus.CounterVec)
		case reqDur:
			h.reqDur = c.(*prometheus.HistogramVec)
		case resSz:
			h.resSz = c.(*prometheus.SummaryVec)
		case reqSz:
			h.reqSz = c.(*prometheus.SummaryVec)
		}
	}
	return h, nil
}

// Middleware records every request except scrapes of DefaultMetricPath.
func (h *HTTP) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == DefaultMetricPath {
			c.Next()
			return
		}
		start := time.Now()
		size := approximateRequestSize(c.Request)

		c.Next()

		labels := []string{
			strconv.Itoa(c.Writer.Status()),
			c.Request.Method,
			h.routeLabel(c),
			c.Request.Header.Get(RefererKey),
		}
		h.reqDur.WithLabelValues(labels...).Observe(MillisecondsSince(start))
		h.reqCnt.WithLabelValues(labels...).Inc()
		h.reqSz.WithLabelValues(labels...).Observe(float64(size))
		h.resSz.WithLabelValues(labels...).Observe(float64(c.Writer.Size()))
	}
}

// Handler serves the registry in the prometheus text format.
func (h *HTTP) Handler() http.Handler {
	return promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})
}

// MillisecondsSince returns the elapsed time since start in fractional milliseconds.
func MillisecondsSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}

// approximateRequestSize estimates the wire size of r without reading the body.
func approximateRequestSize(r *http.Request) int {
	s := len(r.Method) + len(r.Proto) + len(r.Host)
	if r.URL != nil {
		s += len(r.URL.Path)
	}
	for name, values := range r.Header {
		s += len(name)
		for _, value := range values {
			s += len(value)
		}
	}
	if r.ContentLength > 0 {
		s += int(r.ContentLength)
	}
	return s
}
