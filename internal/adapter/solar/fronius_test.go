package solar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	powerFlowBody = `{"Body":{"Data":{"Site":{"Mode":"bidirectional","P_Akku":-512.3,"P_Grid":-1450.5,"P_Load":-837.2,"P_PV":2800.0}}}}`
	storageBody   = `{"Body":{"Data":{"0":{"Controller":{"StateOfCharge_Relative":64.5}}}}}`
)

func froniusServer(t *testing.T, handler http.HandlerFunc) *FroniusSource {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	src := NewFroniusSource(ts.URL+"/", time.Second, true, nil)
	src.client = ts.Client()
	return src
}

func TestFroniusSnapshot(t *testing.T) {

	src := froniusServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case froniusPowerFlowPath:
			_, _ = w.Write([]byte(powerFlowBody))
		case froniusStoragePath:
			_, _ = w.Write([]byte(storageBody))
		default:
			http.NotFound(w, r)
		}
	})

	snapshot, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2800.0, snapshot.PVWatt)
	assert.Equal(t, -1450.5, snapshot.GridWatt)
	assert.Equal(t, -512.3, snapshot.BatteryWatt)
	assert.Equal(t, 837.2, snapshot.LoadWatt)
	assert.Equal(t, 64.5, snapshot.ChargePercent)
	assert.False(t, snapshot.Time.IsZero())
}

func TestFroniusNullValues(t *testing.T) {

	src := froniusServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == froniusPowerFlowPath {
			_, _ = w.Write([]byte(`{"Body":{"Data":{"Site":{"P_Akku":null,"P_Grid":310.2,"P_Load":-310.2,"P_PV":null}}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"Body":{"Data":{"0":{"Controller":{"StateOfCharge_Relative":null}}}}}`))
	})

	snapshot, err := src.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.0, snapshot.PVWatt)
	assert.Equal(t, 0.0, snapshot.BatteryWatt)
	assert.Equal(t, 310.2, snapshot.GridWatt)
	assert.Equal(t, 0.0, snapshot.ChargePercent)
}

func TestFroniusErrors(t *testing.T) {

	t.Run("status", func(t *testing.T) {
		src := froniusServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		_, err := src.Snapshot(context.Background())
		assert.ErrorContains(t, err, "503")
	})

	t.Run("malformed body", func(t *testing.T) {
		src := froniusServer(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"Body":`))
		})
		_, err := src.Snapshot(context.Background())
		assert.ErrorContains(t, err, "decoding")
	})

	t.Run("missing storage", func(t *testing.T) {
		src := froniusServer(t, func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == froniusPowerFlowPath {
				_, _ = w.Write([]byte(powerFlowBody))
				return
			}
			_, _ = w.Write([]byte(`{"Body":{"Data":{}}}`))
		})
		_, err := src.Snapshot(context.Background())
		assert.ErrorIs(t, err, errFroniusNoStorage)
	})

	t.Run("user agent", func(t *testing.T) {
		var agent string
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			agent = r.Header.Get("User-Agent")
			if r.URL.Path == froniusStoragePath {
				_, _ = w.Write([]byte(storageBody))
				return
			}
			_, _ = w.Write([]byte(powerFlowBody))
		}))
		defer ts.Close()
		src := NewFroniusSource(ts.URL, time.Second, true, nil)
		_, err := src.Snapshot(context.Background())
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(agent, "pvheat/"))
	})
}
