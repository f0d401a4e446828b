package response

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnvelopes(t *testing.T) {
	ok := OKT(map[string]string{"status": "paid"})
	require.Equal(t, APIResponseCodeOK, ok.Code)
	require.Equal(t, "ok", ok.Message)
	require.Equal(t, "paid", ok.Data["status"])

	e := ErrorT[any](APIResponseCodeNotFound, "payment not found")
	require.Equal(t, "not found", e.Message)
	require.Equal(t, "payment not found", e.Data)
}
