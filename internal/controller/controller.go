// Package controller wires every collaborator together and runs the
// reader and writer goroutines: the reader blocks in the transport,
// validates, acks, and enqueues; the writer ticks the state machine
// against whatever is due.
package controller

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/zurustar/smqueued/internal/cdr"
	"github.com/zurustar/smqueued/internal/config"
	"github.com/zurustar/smqueued/internal/directory"
	"github.com/zurustar/smqueued/internal/engine"
	"github.com/zurustar/smqueued/internal/logging"
	"github.com/zurustar/smqueued/internal/mqueue"
	"github.com/zurustar/smqueued/internal/mqueue/persist"
	"github.com/zurustar/smqueued/internal/responder"
	"github.com/zurustar/smqueued/internal/shortcode"
	"github.com/zurustar/smqueued/internal/sipmsg"
	"github.com/zurustar/smqueued/internal/sipparse"
	"github.com/zurustar/smqueued/internal/transport"
	"github.com/zurustar/smqueued/internal/webadmin"
)

// writerTick is the writer goroutine's polling interval.
const writerTick = 150 * time.Millisecond

// shutdownWait is how long Stop waits for the reader/writer goroutines
// before giving up and logging a warning.
const shutdownWait = 30 * time.Second

// Controller owns every collaborator (explicit dependencies, no
// singletons) and drives the reader/writer pair.
type Controller struct {
	Config    *config.Config
	Logger    logging.Logger
	Transport transport.Transport
	Parser    *sipparse.Parser
	Validator *sipparse.Validator
	Directory directory.Client
	CDR       cdr.Sink
	Queue     *mqueue.Queue
	Worker    *engine.Worker
	WebAdmin  *webadmin.Server

	ownAddr string

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// New builds a Controller with every collaborator initialized from cfg,
// leaves first, logging a breadcrumb per component.
func New(cfg *config.Config) (*Controller, error) {
	logger, err := logging.NewLoggerFromConfig(logging.LoggerConfig{
		Level: cfg.Logging.Level,
		File:  cfg.Logging.File,
	})
	if err != nil {
		return nil, fmt.Errorf("controller: initialize logger: %w", err)
	}
	logger.Info("logger initialized")

	dbClient, err := directory.Open(cfg.SubscriberRegistry.DB)
	if err != nil {
		return nil, fmt.Errorf("controller: initialize directory: %w", err)
	}
	dirClient := directory.NewFallbackClient(dbClient)
	logger.Info("directory client initialized", logging.StringField("db", cfg.SubscriberRegistry.DB))

	var cdrSink cdr.Sink
	if cfg.CDRFile != "" {
		fileSink, err := cdr.NewFileSink(cfg.CDRFile)
		if err != nil {
			return nil, fmt.Errorf("controller: initialize cdr sink: %w", err)
		}
		cdrSink = fileSink
	} else {
		cdrSink = cdr.NullSink{}
	}
	logger.Info("cdr sink initialized", logging.StringField("file", cfg.CDRFile))

	udpTransport := transport.NewUDPTransport()
	if err := udpTransport.Start(cfg.Server.MyPort); err != nil {
		return nil, fmt.Errorf("controller: start transport: %w", err)
	}
	logger.Info("transport started", logging.IntField("port", cfg.Server.MyPort))

	parser := sipparse.NewParser()
	validator := sipparse.NewValidator(logger, cfg.Debug.PrintAsWeValidate)
	shortCodes := shortcode.NewDefaultTable(cfg)
	queue := mqueue.NewQueue()

	ownAddr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.MyPort)

	worker := &engine.Worker{
		Queue:      queue,
		Directory:  dirClient,
		ShortCodes: shortCodes,
		Parser:     parser,
		Transport:  udpTransport,
		CDR:        cdrSink,
		Config:     cfg,
		Logger:     logger,
		OwnAddr:    ownAddr,
	}
	logger.Info("engine worker initialized")

	var webAdmin *webadmin.Server
	if cfg.WebAdmin.Enabled {
		webAdmin = webadmin.NewServer(queue, logger)
		logger.Info("web admin server initialized", logging.IntField("port", cfg.WebAdmin.Port))
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Controller{
		Config:    cfg,
		Logger:    logger,
		Transport: udpTransport,
		Parser:    parser,
		Validator: validator,
		Directory: dirClient,
		CDR:       cdrSink,
		Queue:     queue,
		Worker:    worker,
		WebAdmin:  webAdmin,
		ownAddr:   ownAddr,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start loads the persisted queue (if any), starts the reader and writer
// goroutines, and the web admin server if enabled.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("controller: already started")
	}

	if err := c.loadQueue(); err != nil {
		c.Logger.Warn("failed to load persisted queue", logging.ErrorField(err))
	}

	if c.WebAdmin != nil {
		if err := c.WebAdmin.Start(c.Config.WebAdmin.Port); err != nil {
			return fmt.Errorf("controller: start web admin: %w", err)
		}
		c.Logger.Info("web admin listening", logging.IntField("port", c.Config.WebAdmin.Port))
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()

	c.started = true
	c.Logger.Info("smqueued started",
		logging.IntField("port", c.Config.Server.MyPort),
		logging.IntField("queue_depth", c.Queue.Len()),
	)
	return nil
}

// Stop cancels the shared context, waits for both goroutines (bounded by
// shutdownWait), persists the queue, and closes the CDR sink.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return nil
	}

	c.Logger.Info("initiating graceful shutdown")
	c.cancel()
	if err := c.Transport.Stop(); err != nil {
		c.Logger.Warn("error stopping transport", logging.ErrorField(err))
	}
	if c.WebAdmin != nil {
		if err := c.WebAdmin.Stop(); err != nil {
			c.Logger.Warn("error stopping web admin", logging.ErrorField(err))
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.Logger.Info("reader/writer goroutines stopped")
	case <-time.After(shutdownWait):
		c.Logger.Warn("timeout waiting for reader/writer goroutines to stop")
	}

	if err := c.saveQueue(); err != nil {
		c.Logger.Error("failed to persist queue", logging.ErrorField(err))
	}
	if err := c.CDR.Close(); err != nil {
		c.Logger.Warn("error closing cdr sink", logging.ErrorField(err))
	}

	c.started = false
	c.Logger.Info("shutdown complete")
	return nil
}

// RunWithSignalHandling starts the controller and blocks until SIGINT or
// SIGTERM, then performs a graceful stop.
func (c *Controller) RunWithSignalHandling() error {
	if err := c.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	c.Logger.Info("received shutdown signal", logging.StringField("signal", sig.String()))

	return c.Stop()
}

// readLoop is the reader worker: it blocks in the transport,
// validates every datagram, acks the sender, and enqueues accepted
// requests at INITIAL. Responses are enqueued without an ack (acking a
// response back to whoever sent it would loop).
func (c *Controller) readLoop() {
	defer c.wg.Done()
	for {
		data, from, err := c.Transport.GetNextDatagram(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			continue
		}
		c.handleDatagram(data, from)
	}
}

func (c *Controller) handleDatagram(data []byte, from net.Addr) {
	msg, err := c.Parser.Parse(data)
	if err != nil {
		c.Logger.Warn("failed to parse inbound datagram", logging.AddressField("from", c.Transport.FormatAddr(from)))
		return
	}
	msg.Source = from

	code := c.Validator.Validate(msg, c.validateOptions())

	// Validation computes the response's qtag, which correlation keys on.
	// A malformed response is dropped rather than acked; answering an
	// answer would loop.
	if msg.IsResponse() {
		if code != 0 {
			c.Logger.Debug("dropping invalid response",
				logging.AddressField("from", c.Transport.FormatAddr(from)),
				logging.IntField("code", code))
			return
		}
		c.enqueue(msg, data, from, mqueue.DirectionInbound)
		return
	}

	if code != 0 {
		ack := responder.Ack(msg, code, "")
		c.send(ack)
		return
	}

	status := sipmsg.StatusTrying
	if msg.GetMethod() == sipmsg.MethodMESSAGE {
		status = statusQueued
	}
	c.send(responder.Ack(msg, status, ""))
	c.enqueue(msg, data, from, mqueue.DirectionInbound)
}

// statusQueued is the non-standard "202 Queued" status for an accepted
// MESSAGE; sipmsg's status table doesn't carry a named constant for it
// because it isn't an RFC3261 code.
const statusQueued = 202

func (c *Controller) enqueue(msg *sipmsg.Message, raw []byte, from net.Addr, dir mqueue.Direction) {
	entry := mqueue.NewFromParsed(msg)
	entry.QTag, entry.QTagHash = msg.QTag, msg.QTagHash
	entry.SourceAddr = from
	entry.SourceAddrS = c.Transport.FormatAddr(from)
	entry.Direction = dir
	c.Queue.Insert(entry, mqueue.Initial, time.Now())
}

func (c *Controller) send(resp *sipmsg.Message) {
	data, err := c.Parser.Serialize(resp)
	if err != nil {
		c.Logger.Warn("failed to serialize response", logging.ErrorField(err))
		return
	}
	if resp.Destination == nil {
		return
	}
	if err := c.Transport.SendDatagram(data, resp.Destination); err != nil {
		c.Logger.Warn("failed to send response", logging.ErrorField(err))
	}
}

func (c *Controller) validateOptions() sipparse.ValidateOptions {
	localHosts := map[string]bool{c.ownAddr: true}
	if c.Config.Server.SecondAddress != "" {
		localHosts[c.Config.Server.SecondAddress] = true
	}
	relayAddr := ""
	if c.Config.SIP.GlobalRelay.IP != "" {
		relayAddr = fmt.Sprintf("%s:%d", c.Config.SIP.GlobalRelay.IP, c.Config.SIP.GlobalRelay.Port)
	}
	return sipparse.ValidateOptions{
		AllowEarlyCheck: relayAddr != "",
		RelayAddr:       relayAddr,
		RelaxedVerify:   c.Config.SIP.GlobalRelay.RelaxedVerify,
		LocalHosts:      localHosts,
		IsDeliverable:   c.isDeliverable,
	}
}

// isDeliverable backs the relay early-resolution check: a destination
// username is deliverable if it's a registered short code or a known
// IMSI.
func (c *Controller) isDeliverable(user string) bool {
	if _, ok := c.Worker.ShortCodes.Lookup(user); ok {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, found, err := c.Directory.IMSIToPhone(ctx, user)
	return err == nil && found
}

// writeLoop is the writer worker: it ticks every writerTick and runs one
// pass of the state machine against whatever's due.
func (c *Controller) writeLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(writerTick)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case now := <-ticker.C:
			c.Worker.Tick(now)
		}
	}
}

// loadQueue restores the persisted queue at startup. Per-record
// validation failures count as errors; if any occurred the save file is
// cleared so a second crash doesn't re-ingest the same bad data.
func (c *Controller) loadQueue() error {
	f, err := os.Open(c.Config.SaveFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("controller: open save file: %w", err)
	}
	defer f.Close()

	validate := func(raw []byte) bool {
		msg, err := c.Parser.Parse(raw)
		if err != nil {
			return false
		}
		return c.Validator.Validate(msg, sipparse.ValidateOptions{}) == 0 || msg.IsResponse()
	}

	records, errCount, err := persist.Load(f, validate)
	if err != nil {
		return fmt.Errorf("controller: load save file: %w", err)
	}

	for _, rec := range records {
		entry := mqueue.NewFromText(rec.RawText)
		entry.SourceAddrS = rec.SourceAddr
		entry.Direction = rec.Direction
		entry.NeedRepack = rec.NeedRepack
		if addr, err := net.ResolveUDPAddr("udp4", rec.SourceAddr); err == nil {
			entry.SourceAddr = addr
		}
		if msg, err := entry.Parsed(c.Parser); err == nil {
			msg.QTag, msg.QTagHash = sipparse.ComputeQTag(msg)
			entry.QTag, entry.QTagHash = msg.QTag, msg.QTagHash
		}
		c.Queue.Insert(entry, rec.State, rec.NextActionTime)
	}

	c.Logger.Info("restored persisted queue",
		logging.IntField("entries", len(records)),
		logging.IntField("errors", errCount),
	)

	if errCount > 0 {
		if err := os.Truncate(c.Config.SaveFile, 0); err != nil {
			c.Logger.Warn("failed to clear save file after load errors", logging.ErrorField(err))
		}
	}
	return nil
}

// saveQueue persists the live queue to Config.SaveFile on graceful
// shutdown, writing entries in the reverse-timestamp order
// Queue.SnapshotReverse already produces.
func (c *Controller) saveQueue() error {
	f, err := os.Create(c.Config.SaveFile)
	if err != nil {
		return fmt.Errorf("controller: create save file: %w", err)
	}
	defer f.Close()

	entries := c.Queue.SnapshotReverse()
	n, err := persist.Save(f, entries, func(e *mqueue.Entry) ([]byte, error) {
		return e.Text(c.Parser)
	})
	if err != nil {
		return fmt.Errorf("controller: save queue: %w", err)
	}
	c.Logger.Info("persisted queue", logging.IntField("entries", n))
	return nil
}
