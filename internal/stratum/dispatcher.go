package stratum

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stratacore/stratifier/internal/auth"
	"github.com/stratacore/stratifier/internal/monitoring"
	"github.com/stratacore/stratifier/internal/registry"
	"github.com/stratacore/stratifier/internal/shares"
	"github.com/stratacore/stratifier/internal/stratum/hashrate"
	"github.com/stratacore/stratifier/internal/stratum/proxyproto"
	"github.com/stratacore/stratifier/internal/vardiff"
	"github.com/stratacore/stratifier/internal/workbase"
)

// WorkerResolver resolves an authenticating miner's pool-payout address and
// worker name into durable user/worker identities, typically backed by
// internal/database. It is the dispatcher's only dependency on persistence,
// kept behind an interface so the dispatcher itself stays storage-agnostic.
type WorkerResolver interface {
	Resolve(ctx context.Context, address, workerName string) (userID, workerID int64, minDiff float64, err error)
}

// AddressPolicy carries the chain parameters mining.authorize validates an
// incoming username's address component against.
type AddressPolicy struct {
	P2PKHVersion byte
	P2SHVersion  byte
	Bech32HRP    string
}

// DispatcherConfig configures the job dispatcher.
type DispatcherConfig struct {
	ListenAddress   string
	Enonce1Len      int // bytes of extranonce1 handed out at subscribe
	Enonce2Len      int
	MaxMissedProxy  time.Duration // ProxyProto detection timeout
	Address         AddressPolicy
	Vardiff         vardiff.Config
	InvalidStreak   int32
	WelcomeBanner   string // optional greeting text; the dispatcher never sends it
}

// DefaultDispatcherConfig returns sensible defaults for a mainnet Bitcoin pool.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		ListenAddress:  ":3333",
		Enonce1Len:     4,
		Enonce2Len:     4,
		MaxMissedProxy: proxyproto.DetectionTimeout,
		Address: AddressPolicy{
			P2PKHVersion: 0x00,
			P2SHVersion:  0x05,
			Bech32HRP:    "bc",
		},
		Vardiff:       vardiff.DefaultConfig(),
		InvalidStreak: shares.InvalidStreakThreshold,
	}
}

// session pairs a registry client with the live connection the dispatcher
// writes responses and notifications to.
type session struct {
	conn    net.Conn
	writeMu sync.Mutex
}

// Dispatcher is the stratum job dispatcher: it owns the TCP listener, wires
// every inbound line to the client registry, share pipeline, and vardiff
// controller, and fans out mining.notify/mining.set_difficulty to connected
// clients.
type Dispatcher struct {
	config DispatcherConfig

	Clients   *registry.Registry
	Workbases *workbase.Manager
	Pipeline  *shares.ShareProcessor
	Hashmeter *monitoring.Hashmeter
	Collector *monitoring.Collector
	Resolver  WorkerResolver

	decoder *proxyproto.Decoder

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	nextClientID int64

	sessionsMu sync.RWMutex
	sessions   map[int64]*session
}

// NewDispatcher wires a dispatcher to the already-constructed pool
// components. Resolver may be nil, in which case every mining.authorize is
// accepted with a zero user/worker id (dev-mode, no persistence backing).
func NewDispatcher(config DispatcherConfig, clients *registry.Registry, workbases *workbase.Manager, pipeline *shares.ShareProcessor, hashmeter *monitoring.Hashmeter, collector *monitoring.Collector, resolver WorkerResolver) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		config:    config,
		Clients:   clients,
		Workbases: workbases,
		Pipeline:  pipeline,
		Hashmeter: hashmeter,
		Collector: collector,
		Resolver:  resolver,
		decoder:   proxyproto.NewDecoderWithTimeout(config.MaxMissedProxy),
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[int64]*session),
	}
}

// Start begins listening and accepting connections.
func (d *Dispatcher) Start() error {
	listener, err := net.Listen("tcp", d.config.ListenAddress)
	if err != nil {
		return fmt.Errorf("stratum: failed to listen on %s: %w", d.config.ListenAddress, err)
	}
	d.listener = listener

	d.wg.Add(1)
	go d.acceptLoop()
	return nil
}

// Stop closes the listener and waits for in-flight connections to drain.
func (d *Dispatcher) Stop() {
	d.cancel()
	if d.listener != nil {
		d.listener.Close()
	}
	d.wg.Wait()
}

func (d *Dispatcher) acceptLoop() {
	defer d.wg.Done()
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			if d.ctx.Err() != nil {
				return
			}
			continue
		}
		d.wg.Add(1)
		go d.handleConnection(conn)
	}
}

func (d *Dispatcher) handleConnection(conn net.Conn) {
	defer d.wg.Done()
	defer conn.Close()

	// Strip any Proxy-Protocol header before the stratum framer sees the
	// stream. hdr is unused today but kept for a future ACL/audit hook.
	_, wrapped, err := d.decoder.Decode(conn)
	if err != nil {
		return
	}

	host, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	id := atomic.AddInt64(&d.nextClientID, 1)
	client := registry.NewClient(id, host)

	if err := d.Clients.Admit(client); err != nil {
		return
	}
	defer d.Clients.Remove(id)

	sess := &session{conn: wrapped}
	d.sessionsMu.Lock()
	d.sessions[id] = sess
	d.sessionsMu.Unlock()
	defer func() {
		d.sessionsMu.Lock()
		delete(d.sessions, id)
		d.sessionsMu.Unlock()
	}()

	scanner := bufio.NewScanner(wrapped)
	scanner.Buffer(make([]byte, 4096), 1<<20)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		d.dispatch(client, sess, line)
		if client.State() == registry.StateDropped {
			return
		}
	}
}

type inboundMessage struct {
	ID     json.RawMessage   `json:"id"`
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
}

func (d *Dispatcher) dispatch(client *registry.Client, sess *session, line []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(line, &msg); err != nil {
		d.sendError(sess, nil, 20, "parse error")
		return
	}
	client.Touch()

	switch msg.Method {
	case "mining.subscribe":
		d.handleSubscribe(client, sess, msg)
	case "mining.authorize":
		d.handleAuthorize(client, sess, msg)
	case "mining.submit":
		d.handleSubmit(client, sess, msg)
	case "mining.extranonce.subscribe":
		d.sendResult(sess, msg.ID, true)
	case "mining.suggest_difficulty":
		d.handleSuggestDifficulty(client, sess, msg)
	default:
		d.sendError(sess, msg.ID, 20, "unknown method: "+msg.Method)
	}
}

func (d *Dispatcher) handleSubscribe(client *registry.Client, sess *session, msg inboundMessage) {
	var userAgent string
	if len(msg.Params) > 0 {
		_ = json.Unmarshal(msg.Params[0], &userAgent)
	}

	enonce1 := d.Clients.NextEnonce1()
	client.MarkSubscribed(enonce1)

	normalized, allowed := d.Hashmeter.SubscribeUA(userAgent)
	if !allowed {
		d.sendError(sess, msg.ID, 25, "user agent not permitted")
		client.MarkDropped()
		return
	}
	_ = normalized

	enonce1Bytes := make([]byte, 8)
	for i := 0; i < 8; i++ {
		enonce1Bytes[7-i] = byte(enonce1 >> (8 * i))
	}
	if d.config.Enonce1Len > 0 && d.config.Enonce1Len <= len(enonce1Bytes) {
		enonce1Bytes = enonce1Bytes[len(enonce1Bytes)-d.config.Enonce1Len:]
	}

	result := []interface{}{
		[][]string{
			{"mining.set_difficulty", strconv.FormatInt(client.ID, 10)},
			{"mining.notify", strconv.FormatInt(client.ID, 10)},
		},
		hex.EncodeToString(enonce1Bytes),
		d.config.Enonce2Len,
	}
	d.sendResult(sess, msg.ID, result)

	initialDiff := d.config.Vardiff.PoolMinDiff
	client.SetDiff(initialDiff, d.Workbases.CurrentID(), true)
	d.sendDifficulty(sess, initialDiff)

	if wb := d.Workbases.Current(); wb != nil {
		d.sendNotify(sess, wb, true)
	}
}

func (d *Dispatcher) handleAuthorize(client *registry.Client, sess *session, msg inboundMessage) {
	if len(msg.Params) < 1 {
		d.sendError(sess, msg.ID, 24, "missing username")
		return
	}
	var username string
	_ = json.Unmarshal(msg.Params[0], &username)

	var password string
	if len(msg.Params) > 1 {
		_ = json.Unmarshal(msg.Params[1], &password)
	}

	address, workerName, err := auth.ParseWorkerUsername(username)
	if err != nil {
		d.sendError(sess, msg.ID, 24, "invalid username")
		return
	}
	if _, err := auth.ValidateAddress(address, d.config.Address.P2PKHVersion, d.config.Address.P2SHVersion, d.config.Address.Bech32HRP); err != nil {
		client.MarkAuthFailed(time.Minute)
		d.sendError(sess, msg.ID, 24, "invalid address")
		return
	}

	client.MarkAuthorising()

	var userID, workerID int64
	var minDiff float64
	if d.Resolver != nil {
		userID, workerID, minDiff, err = d.Resolver.Resolve(context.Background(), address, workerName)
		if err != nil {
			client.MarkAuthFailed(time.Minute)
			d.sendError(sess, msg.ID, 24, "authorization failed")
			return
		}
	}

	client.WorkerName = workerName
	client.UserID = userID
	client.WorkerID = workerID
	client.DiffMu.Lock()
	client.WorkerMinDiff = minDiff
	client.DiffMu.Unlock()
	client.MarkAuthorised()
	d.Clients.OnAuthorised()

	if diff, ok := auth.ParsePasswordDiff(password); ok {
		floor := minDiff
		if floor <= 0 {
			floor = d.config.Vardiff.PoolMinDiff
		}
		if diff < floor {
			diff = floor
		}
		client.PasswordDiffSet = true
		client.SetDiff(diff, d.Workbases.CurrentID(), true)
		d.sendDifficulty(sess, diff)
	}

	d.sendResult(sess, msg.ID, true)
}

func (d *Dispatcher) handleSuggestDifficulty(client *registry.Client, sess *session, msg inboundMessage) {
	if len(msg.Params) < 1 {
		d.sendError(sess, msg.ID, 20, "missing difficulty")
		return
	}
	var requested float64
	if err := json.Unmarshal(msg.Params[0], &requested); err != nil {
		d.sendError(sess, msg.ID, 20, "invalid difficulty")
		return
	}

	client.DiffMu.Lock()
	current := client.Diff
	suggested := client.SuggestedDiff
	client.SuggestedDiff = requested
	client.DiffMu.Unlock()

	decision := d.config.Vardiff.EvaluateSuggestedDiff(current, suggested, requested)
	if decision.Changed {
		client.SetDiff(decision.NewDiff, d.Workbases.CurrentID(), decision.ApplyToCurrentJob)
		d.sendDifficulty(sess, decision.NewDiff)
	}
	d.sendResult(sess, msg.ID, true)
}

func (d *Dispatcher) handleSubmit(client *registry.Client, sess *session, msg inboundMessage) {
	if client.State() != registry.StateAuthorised {
		d.sendError(sess, msg.ID, 24, "unauthorized")
		return
	}
	if len(msg.Params) < 5 {
		d.sendError(sess, msg.ID, 20, "invalid params")
		return
	}

	var workerName, jobIDStr, enonce2Hex, ntimeHex, nonceHex string
	_ = json.Unmarshal(msg.Params[0], &workerName)
	_ = json.Unmarshal(msg.Params[1], &jobIDStr)
	_ = json.Unmarshal(msg.Params[2], &enonce2Hex)
	_ = json.Unmarshal(msg.Params[3], &ntimeHex)
	_ = json.Unmarshal(msg.Params[4], &nonceHex)

	jobID, err := strconv.ParseInt(jobIDStr, 16, 64)
	if err != nil {
		d.sendError(sess, msg.ID, 20, "invalid job id")
		return
	}
	enonce2, err := hex.DecodeString(enonce2Hex)
	if err != nil {
		d.sendError(sess, msg.ID, 20, "invalid extranonce2")
		return
	}
	ntime64, err := strconv.ParseUint(ntimeHex, 16, 32)
	if err != nil {
		d.sendError(sess, msg.ID, 20, "invalid ntime")
		return
	}
	if len(nonceHex) < 8 {
		d.sendError(sess, msg.ID, 20, "invalid nonce")
		return
	}
	nonce64, err := strconv.ParseUint(nonceHex, 16, 32)
	if err != nil {
		d.sendError(sess, msg.ID, 20, "invalid nonce")
		return
	}

	share := &shares.Share{
		ClientID:   client.ID,
		WorkbaseID: jobID,
		Enonce2:    enonce2,
		NTime:      uint32(ntime64),
		Nonce:      uint32(nonce64),
		WorkerName: workerName,
		UserID:     client.UserID,
		MinerID:    client.WorkerID,
	}

	result := d.Pipeline.ProcessShare(share)
	if d.Collector != nil {
		d.Collector.RecordShareOutcome(result.Outcome)
		if result.BlockFound {
			d.Collector.RecordBlockFound()
		}
	}

	if !result.Success {
		d.sendError(sess, msg.ID, shareErrorCode(result.Outcome), result.Outcome.String())
		return
	}

	if d.Hashmeter != nil {
		d.Hashmeter.RecordShare(client.ID, client.WorkerID, client.UserID, share.Difficulty)
	}
	d.sendResult(sess, msg.ID, true)
	d.maybeRetarget(client, sess)
}

// maybeRetarget runs the per-share vardiff decision using the client's
// current EMA reading and applies/broadcasts any change. The three-tier
// cadence (ultra-fast/fast/normal) gates how often this is allowed to
// actually commit a change, so a bursty miner cannot flap its own diff.
func (d *Dispatcher) maybeRetarget(client *registry.Client, sess *session) {
	if d.Hashmeter == nil {
		return
	}
	now := time.Now()
	dsps := d.Hashmeter.ClientHashrate(client.ID) / hashrate.Diff1Target

	client.DiffMu.Lock()
	since := now.Sub(client.LastDiffChange)
	tier := vardiff.SelectTier(client.SSDC, since)
	period := tier.Period()
	// TimeBias(since, period) reaches 1-1/e (~0.632) exactly when since
	// equals the tier's period, so gating on that threshold is equivalent
	// to "at least one full tier window has elapsed" without a second,
	// redundant duration comparison.
	if vardiff.TimeBias(since.Seconds(), period.Seconds()) < 0.632 {
		client.DiffMu.Unlock()
		return
	}
	st := vardiff.State{
		Diff:           client.Diff,
		WorkerMinDiff:  client.WorkerMinDiff,
		SSDC:           client.SSDC,
		LastDiffChange: client.LastDiffChange,
	}
	client.DiffMu.Unlock()

	decision := d.config.Vardiff.Evaluate(st, dsps, now)
	if !decision.Changed {
		return
	}
	client.SetDiff(decision.NewDiff, d.Workbases.CurrentID(), decision.ApplyToCurrentJob)
	d.sendDifficulty(sess, decision.NewDiff)
}

func shareErrorCode(outcome shares.Outcome) int {
	switch outcome {
	case shares.RejectUnauthorized:
		return 24
	case shares.RejectNotSubscribed:
		return 25
	case shares.RejectStale:
		return 21
	case shares.RejectDuplicate:
		return 22
	case shares.RejectHighHash, shares.RejectLowDifficulty:
		return 23
	default:
		return 20
	}
}

// BroadcastJob sends mining.notify to every authorised, subscribed client.
// Called by whatever drives workbase ingestion (a template poller, or a
// federation-sourced remote workinfo) once a new workbase is published.
func (d *Dispatcher) BroadcastJob(wb *workbase.Workbase, cleanJobs bool) {
	d.Clients.ForEach(func(c *registry.Client) {
		if c.State() != registry.StateAuthorised {
			return
		}
		d.sessionsMu.RLock()
		sess, ok := d.sessions[c.ID]
		d.sessionsMu.RUnlock()
		if !ok {
			return
		}
		d.sendNotify(sess, wb, cleanJobs)
	})
}

func (d *Dispatcher) sendNotify(sess *session, wb *workbase.Workbase, cleanJobs bool) {
	merkleHex := make([]string, len(wb.MerkleBranch))
	for i, m := range wb.MerkleBranch {
		merkleHex[i] = hex.EncodeToString(m)
	}
	msg := map[string]interface{}{
		"id":     nil,
		"method": "mining.notify",
		"params": []interface{}{
			strconv.FormatInt(wb.ID, 16),
			hex.EncodeToString(wb.PrevHash[:]),
			hex.EncodeToString(wb.CoinbasePrefix),
			hex.EncodeToString(wb.CoinbaseSuffix),
			merkleHex,
			fmt.Sprintf("%08x", wb.Version),
			fmt.Sprintf("%08x", wb.NBits),
			fmt.Sprintf("%08x", wb.NTime),
			cleanJobs,
		},
	}
	d.writeJSON(sess, msg)
}

func (d *Dispatcher) sendDifficulty(sess *session, diff float64) {
	msg := map[string]interface{}{
		"id":     nil,
		"method": "mining.set_difficulty",
		"params": []interface{}{diff},
	}
	d.writeJSON(sess, msg)
}

func (d *Dispatcher) sendResult(sess *session, id json.RawMessage, result interface{}) {
	msg := map[string]interface{}{
		"id":     rawOrNil(id),
		"result": result,
		"error":  nil,
	}
	d.writeJSON(sess, msg)
}

func (d *Dispatcher) sendError(sess *session, id json.RawMessage, code int, message string) {
	msg := map[string]interface{}{
		"id":     rawOrNil(id),
		"result": nil,
		"error":  []interface{}{code, message, nil},
	}
	d.writeJSON(sess, msg)
}

func rawOrNil(id json.RawMessage) interface{} {
	if len(id) == 0 {
		return nil
	}
	var v interface{}
	_ = json.Unmarshal(id, &v)
	return v
}

func (d *Dispatcher) writeJSON(sess *session, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	data = append(data, '\n')

	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	sess.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, _ = sess.conn.Write(data)
}
