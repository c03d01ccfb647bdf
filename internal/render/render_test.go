package render

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckStatus(t *testing.T) {
	t.Parallel()

	require.NoError(t, CheckStatus(Page{URL: "u", StatusCode: http.StatusOK}))
	require.NoError(t, CheckStatus(Page{URL: "u", StatusCode: http.StatusFound}))

	err := CheckStatus(Page{URL: "https://x", StatusCode: http.StatusServiceUnavailable})
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
	require.EqualError(t, err, "https://x returned status 503")
}
