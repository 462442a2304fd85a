package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NotCoffee418/obis_meter_reader/pkg/meter"
	"github.com/NotCoffee418/obis_meter_reader/pkg/obis"
	"github.com/NotCoffee418/obis_meter_reader/pkg/types"
)

func power(raw int64) types.MeterValue {
	return types.NewNumericValue(obis.MustParse("1-0:16.7.0*255"), raw, 0, "W")
}

func TestRecorderTracksValues(t *testing.T) {
	r := NewRecorder(prometheus.NewRegistry())

	r.ValueAdded("meter1", power(420))
	assert.Equal(t, 420.0, testutil.ToFloat64(r.values.WithLabelValues("meter1", "1-0:16.7.0*255", "W")))

	r.ValueChanged("meter1", power(-35))
	assert.Equal(t, -35.0, testutil.ToFloat64(r.values.WithLabelValues("meter1", "1-0:16.7.0*255", "W")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.events.WithLabelValues("meter1", eventChanged)))

	r.ValueRemoved("meter1", power(-35))
	assert.Equal(t, 0, testutil.CollectAndCount(r.values))
}

func TestRecorderSkipsTextValues(t *testing.T) {
	r := NewRecorder(nil)
	r.ValueAdded("meter1", types.NewTextValue(obis.MustParse("1-0:96.1.0*255"), "ABC"))
	assert.Equal(t, 0, testutil.CollectAndCount(r.values))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.events.WithLabelValues("meter1", eventAdded)))
}

func TestRecorderStatusAndErrors(t *testing.T) {
	r := NewRecorder(nil)

	r.StatusChanged("meter1", meter.Status{Kind: meter.StatusOnline})
	assert.Equal(t, 1.0, testutil.ToFloat64(r.online.WithLabelValues("meter1")))

	r.ErrorOccurred("meter1", errors.New("timeout"))
	r.StatusChanged("meter1", meter.Status{Kind: meter.StatusOffline, Detail: meter.DetailCommunicationError})
	assert.Equal(t, 0.0, testutil.ToFloat64(r.online.WithLabelValues("meter1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.errors.WithLabelValues("meter1")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.statuses.WithLabelValues("meter1", "OFFLINE", "COMMUNICATION_ERROR")))
}

func TestHandlerServesMetrics(t *testing.T) {
	r := NewRecorder(nil)
	r.ValueAdded("meter1", power(7))

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `obis_meter_value{device="meter1",obis="1-0:16.7.0*255",unit="W"} 7`)
}
