package replay

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeGROOVE-dev/nitzTZ/pkg/nitztz"
	"github.com/codeGROOVE-dev/nitzTZ/pkg/tzlookup"
)

var (
	lookupOnce sync.Once
	lookup     *tzlookup.Lookup
	lookupErr  error
)

func nitztzLookup(t *testing.T) nitztz.Option {
	t.Helper()
	lookupOnce.Do(func() { lookup, lookupErr = tzlookup.New() })
	require.NoError(t, lookupErr)
	return nitztz.WithLookup(lookup)
}
