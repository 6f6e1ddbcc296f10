package stratum

import (
	"bufio"
	"encoding/json"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stratacore/stratifier/internal/monitoring"
	"github.com/stratacore/stratifier/internal/registry"
	"github.com/stratacore/stratifier/internal/shares"
	"github.com/stratacore/stratifier/internal/workbase"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *workbase.Manager) {
	t.Helper()

	clients := registry.New(registry.DefaultConfig())
	wm := workbase.NewManager(workbase.PayoutOutput{Script: []byte{0x76, 0xa9}}, workbase.DonationConfig{Percent: 1}, true)
	wb, err := wm.Ingest(workbase.Template{Height: 1, CoinbaseValue: 100}, 4, 4, 1.0)
	require.NoError(t, err)
	wm.Publish(wb)

	pipeline := shares.NewPipeline(wm, clients)
	hm := monitoring.NewHashmeter(time.Minute)
	collector, err := monitoring.NewCollector()
	require.NoError(t, err)

	cfg := DefaultDispatcherConfig()
	cfg.ListenAddress = "127.0.0.1:0"

	d := NewDispatcher(cfg, clients, wm, pipeline, hm, collector, nil)
	return d, wm
}

// runDispatcherOverPipe adapts a net.Pipe side into the dispatcher's handleConnection,
// skipping the real listener/accept loop so the test can drive the protocol
// directly over an in-memory pipe.
func runDispatcherOverPipe(t *testing.T, d *Dispatcher) (client net.Conn, reader *bufio.Reader) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	d.wg.Add(1)
	go d.handleConnection(serverSide)
	return clientSide, bufio.NewReader(clientSide)
}

func writeLine(t *testing.T, conn net.Conn, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	data = append(data, '\n')
	_, err = conn.Write(data)
	require.NoError(t, err)
}

func readResponse(t *testing.T, reader *bufio.Reader) map[string]interface{} {
	t.Helper()
	line, err := reader.ReadBytes('\n')
	require.NoError(t, err)
	var v map[string]interface{}
	require.NoError(t, json.Unmarshal(line, &v))
	return v
}

func TestDispatcher_SubscribeAssignsEnonce1AndSendsJob(t *testing.T) {
	d, _ := newTestDispatcher(t)
	conn, reader := runDispatcherOverPipe(t, d)
	defer conn.Close()

	writeLine(t, conn, inboundMessage{ID: json.RawMessage(`1`), Method: "mining.subscribe", Params: []json.RawMessage{[]byte(`"test-miner/1.0"`)}})

	subscribeResult := readResponse(t, reader)
	assert.NotNil(t, subscribeResult["result"])

	diffMsg := readResponse(t, reader)
	assert.Equal(t, "mining.set_difficulty", diffMsg["method"])

	notifyMsg := readResponse(t, reader)
	assert.Equal(t, "mining.notify", notifyMsg["method"])
}

func TestDispatcher_AuthorizeWithValidAddressSucceeds(t *testing.T) {
	d, _ := newTestDispatcher(t)
	conn, reader := runDispatcherOverPipe(t, d)
	defer conn.Close()

	writeLine(t, conn, inboundMessage{ID: json.RawMessage(`1`), Method: "mining.subscribe"})
	readResponse(t, reader) // subscribe result
	readResponse(t, reader) // set_difficulty
	readResponse(t, reader) // notify

	username := "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa.worker1"
	writeLine(t, conn, inboundMessage{
		ID:     json.RawMessage(`2`),
		Method: "mining.authorize",
		Params: []json.RawMessage{[]byte(`"` + username + `"`), []byte(`"x"`)},
	})

	resp := readResponse(t, reader)
	assert.Equal(t, true, resp["result"])
	assert.Nil(t, resp["error"])
}

func TestDispatcher_AuthorizeWithInvalidAddressFails(t *testing.T) {
	d, _ := newTestDispatcher(t)
	conn, reader := runDispatcherOverPipe(t, d)
	defer conn.Close()

	writeLine(t, conn, inboundMessage{ID: json.RawMessage(`1`), Method: "mining.subscribe"})
	readResponse(t, reader)
	readResponse(t, reader)
	readResponse(t, reader)

	writeLine(t, conn, inboundMessage{
		ID:     json.RawMessage(`2`),
		Method: "mining.authorize",
		Params: []json.RawMessage{[]byte(`"not-a-valid-address.worker1"`)},
	})

	resp := readResponse(t, reader)
	assert.Nil(t, resp["result"])
	assert.NotNil(t, resp["error"])
}

func TestDispatcher_UnknownMethodReturnsError(t *testing.T) {
	d, _ := newTestDispatcher(t)
	conn, reader := runDispatcherOverPipe(t, d)
	defer conn.Close()

	writeLine(t, conn, inboundMessage{ID: json.RawMessage(`1`), Method: "mining.nonsense"})

	resp := readResponse(t, reader)
	assert.NotNil(t, resp["error"])
}

func TestDispatcher_SubmitBeforeAuthoriseRejected(t *testing.T) {
	d, wm := newTestDispatcher(t)
	conn, reader := runDispatcherOverPipe(t, d)
	defer conn.Close()

	writeLine(t, conn, inboundMessage{ID: json.RawMessage(`1`), Method: "mining.subscribe"})
	readResponse(t, reader)
	readResponse(t, reader)
	readResponse(t, reader)

	id := wm.CurrentID()
	writeLine(t, conn, inboundMessage{
		ID:     json.RawMessage(`2`),
		Method: "mining.submit",
		Params: []json.RawMessage{[]byte(`"worker1"`), []byte(`"` + strconv.FormatInt(id, 16) + `"`), []byte(`"00000000"`), []byte(`"00000000"`), []byte(`"00000000"`)},
	})

	resp := readResponse(t, reader)
	assert.NotNil(t, resp["error"])
}

func TestDispatcher_BroadcastJobReachesAuthorisedClients(t *testing.T) {
	d, wm := newTestDispatcher(t)
	conn, reader := runDispatcherOverPipe(t, d)
	defer conn.Close()

	writeLine(t, conn, inboundMessage{ID: json.RawMessage(`1`), Method: "mining.subscribe"})
	readResponse(t, reader)
	readResponse(t, reader)
	readResponse(t, reader)

	username := "1A1zP1eP5QGefi2DMPTfTL5SLmv7DivfNa.worker1"
	writeLine(t, conn, inboundMessage{ID: json.RawMessage(`2`), Method: "mining.authorize", Params: []json.RawMessage{[]byte(`"` + username + `"`)}})
	readResponse(t, reader)

	wb2, err := wm.Ingest(workbase.Template{Height: 2, CoinbaseValue: 100}, 4, 4, 1.0)
	require.NoError(t, err)
	wm.Publish(wb2)

	done := make(chan struct{})
	go func() {
		d.BroadcastJob(wb2, true)
		close(done)
	}()

	notify := readResponse(t, reader)
	assert.Equal(t, "mining.notify", notify["method"])
	<-done
}
