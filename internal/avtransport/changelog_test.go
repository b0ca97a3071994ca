package avtransport

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChangeLogCoalescesBeforeFlush(t *testing.T) {
	log := NewChangeLog()

	log.Record("X", "a")
	log.Record("X", "b")

	records := log.Flush()
	require.Len(t, records, 1)
	assert.Equal(t, "X", records[0].Variable)
	assert.Equal(t, "b", records[0].Value)
	assert.Zero(t, log.Len())
	assert.Nil(t, log.Flush())
}

func TestChangeLogKeepsFirstRecordedOrder(t *testing.T) {
	log := NewChangeLog()

	log.Record("A", "1")
	log.Record("B", "1")
	log.Record("A", "2")

	records := log.Flush()
	require.Len(t, records, 2)
	assert.Equal(t, "A", records[0].Variable)
	assert.Equal(t, "2", records[0].Value)
	assert.Equal(t, "B", records[1].Variable)
}

func TestChangeLogFlushSerialized(t *testing.T) {
	log := NewChangeLog()
	assert.Nil(t, log.FlushSerialized())

	log.Record(VarTransportState, "PLAYING")
	log.Record(VarAVTransportURI, "http://x/a.mp4?x=1&y=2")

	payload := log.FlushSerialized()
	require.NotNil(t, payload)
	doc := string(payload)
	assert.True(t, strings.HasPrefix(doc, `<Event xmlns="urn:schemas-upnp-org:metadata-1-0/AVT/">`), doc)
	assert.Contains(t, doc, `<InstanceID val="0">`)
	assert.Contains(t, doc, `<TransportState val="PLAYING">`)
	assert.Contains(t, doc, `http://x/a.mp4?x=1&amp;y=2`)
	assert.Zero(t, log.Len())

	id, records, err := UnmarshalLastChange(payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), id)
	require.Len(t, records, 2)
	assert.Equal(t, "http://x/a.mp4?x=1&y=2", records[1].Value)
}

func TestChangeLogConcurrentRecordAndFlush(t *testing.T) {
	log := NewChangeLog()
	var wg sync.WaitGroup
	seen := map[string]int{}
	var seenMu sync.Mutex

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				log.Record("V", "x")
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 200; j++ {
			for _, r := range log.Flush() {
				seenMu.Lock()
				seen[r.Variable]++
				seenMu.Unlock()
			}
		}
	}()
	wg.Wait()

	for _, r := range log.Flush() {
		seen[r.Variable]++
	}
	assert.Positive(t, seen["V"])
	assert.Zero(t, log.Len())
}
