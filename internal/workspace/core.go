package workspace

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"loom/internal/config"
	"loom/internal/conflict"
	"loom/internal/event"
	"loom/internal/layout"
	"loom/internal/logging"
	"loom/internal/metrics"
	"loom/internal/term"
	"loom/internal/watch"
	"loom/internal/worktree"
)

const messageQueueSize = 256

type Options struct {
	Config     config.Config
	ProjectDir string
	StatePath  string

	Registry  *term.Registry
	Layout    *layout.Engine
	Tracker   *conflict.Tracker
	Worktrees *worktree.Manager // nil disables worktree handling
	Watcher   *watch.Watcher

	Logger  *logging.Logger
	Metrics *metrics.Registry
	Clock   term.Clock
}

// Core is the single-threaded coordinator. Run's select loop is the only
// mutator of workspace state; sessions, layout, worktrees, and the conflict
// tracker are touched exclusively from within a message turn. Anything that
// can block, git work as well as process fork and teardown, runs in
// goroutines that report back as messages.
type Core struct {
	cfg        config.Config
	projectDir string
	statePath  string

	registry  *term.Registry
	engine    *layout.Engine
	tracker   *conflict.Tracker
	worktrees *worktree.Manager
	watcher   *watch.Watcher

	logger  *logging.Logger
	metrics *metrics.Registry
	clock   term.Clock

	messages  chan Message
	snapshots *event.Bus[Snapshot]
	done      chan struct{}

	mode       Mode
	commandBuf string
	status     string
	active     layout.ContainerID
	viewport   layout.Rect

	// session id -> preset name, for persistence.
	presets map[string]string

	// sessions whose worktree destroy was deferred on dirty state.
	destroyPending map[string]bool

	// spawns waiting on a worktree create task.
	pendingSpawns map[string]SpawnMsg

	// spawns whose fork runs in the background; hidden from snapshots
	// until bound into the layout.
	pendingStarts map[string]pendingStart

	// sessions whose termination runs in the background. The leaf and
	// ownership entries stay put until the exit is observed.
	pendingCloses map[string]bool

	// last repo status per session, refreshed by explicit status queries.
	repoStatus map[string]worktree.RepoStatus

	snapshotSeq uint64
	quitting    bool
}

func NewCore(opts Options) *Core {
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(nil, logging.LevelInfo)
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Default
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Layout == nil {
		opts.Layout = layout.NewEngine(layout.Options{})
	}
	if opts.Tracker == nil {
		opts.Tracker = conflict.NewTracker(conflict.Options{})
	}
	return &Core{
		cfg:            opts.Config,
		projectDir:     opts.ProjectDir,
		statePath:      opts.StatePath,
		registry:       opts.Registry,
		engine:         opts.Layout,
		tracker:        opts.Tracker,
		worktrees:      opts.Worktrees,
		watcher:        opts.Watcher,
		logger:         opts.Logger.With(map[string]string{"component": "core"}),
		metrics:        opts.Metrics,
		clock:          opts.Clock,
		messages:       make(chan Message, messageQueueSize),
		snapshots:      event.NewBus[Snapshot](context.Background(), event.BusOptions{Name: "snapshots"}),
		done:           make(chan struct{}),
		mode:           ModeNormal,
		presets:        make(map[string]string),
		destroyPending: make(map[string]bool),
		pendingSpawns:  make(map[string]SpawnMsg),
		pendingStarts:  make(map[string]pendingStart),
		pendingCloses:  make(map[string]bool),
		repoStatus:     make(map[string]worktree.RepoStatus),
		viewport:       layout.Rect{Width: 80, Height: 24},
	}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Snapshots delivers an immutable state view after every processed message.
func (c *Core) Snapshots() *event.Bus[Snapshot] {
	return c.snapshots
}

// Post queues a message for the loop. It never blocks the caller: when the
// queue is full the message is dropped and counted, matching the bounded
// delivery everywhere else.
func (c *Core) Post(msg Message) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.messages <- msg:
	case <-c.done:
	default:
		c.metrics.AddBusDropped(1)
	}
}

// Run drives the workspace until a QuitMsg or context cancellation. It
// restores persisted state first and spawns an initial session when the
// workspace comes up empty.
func (c *Core) Run(ctx context.Context) error {
	defer close(c.done)

	c.restore()
	if c.worktrees != nil {
		// Worktree entries left behind by a previous run are pruned from
		// git's bookkeeping in the background.
		go func() {
			if err := c.worktrees.Prune(context.Background()); err != nil {
				c.logger.Warn("worktree prune failed", map[string]string{"error": err.Error()})
			}
		}()
	}
	if c.engine.LeafCount() == 0 && len(c.pendingSpawns) == 0 {
		c.spawnSession(SpawnMsg{})
	}
	c.emitSnapshot()

	settleTicker := time.NewTicker(c.settleWindow())
	defer settleTicker.Stop()

	var syncC <-chan time.Time
	if c.worktrees != nil {
		syncTicker := time.NewTicker(c.syncInterval())
		defer syncTicker.Stop()
		syncC = syncTicker.C
	}

	var sessionEvents <-chan term.SessionEvent
	var cancelSessions func()
	if c.registry != nil {
		sessionEvents, cancelSessions = c.registry.Events().Subscribe()
		defer cancelSessions()
	}

	var watchEvents <-chan watch.Event
	if c.watcher != nil {
		watchEvents = c.watcher.Events()
	}

	for !c.quitting {
		select {
		case <-ctx.Done():
			c.quitting = true
		case msg := <-c.messages:
			c.handle(msg)
		case ev, ok := <-sessionEvents:
			if !ok {
				sessionEvents = nil
				continue
			}
			c.handle(sessionMsg{event: ev})
		case ev, ok := <-watchEvents:
			if !ok {
				watchEvents = nil
				continue
			}
			c.handle(fsMsg{event: ev})
		case <-settleTicker.C:
			c.handle(settleTickMsg{})
		case <-syncC:
			c.handle(syncTickMsg{})
		}
		c.emitSnapshot()
	}

	return c.shutdown()
}

func (c *Core) settleWindow() time.Duration {
	if d := c.cfg.Debounce(); d > 0 {
		return d
	}
	return conflict.DefaultSettleWindow
}

func (c *Core) syncInterval() time.Duration {
	if d := c.cfg.SyncInterval(); d > 0 {
		return d
	}
	return 5 * time.Minute
}

func (c *Core) handle(msg Message) {
	switch m := msg.(type) {
	case InputMsg:
		c.routeInput(m.Data)
	case ResizeMsg:
		c.viewport = layout.Rect{Width: m.Cols, Height: m.Rows}
		c.applyRects()
	case SpawnMsg:
		c.spawnSession(m)
	case CloseMsg:
		c.closeSession(m.SessionID)
	case FocusMsg:
		c.moveFocus(m.Direction)
	case SaveMsg:
		c.saveDocument()
	case QuitMsg:
		c.quitting = true
	case sessionMsg:
		c.handleSessionEvent(m.event)
	case fsMsg:
		c.tracker.OnFSEvent(m.event.Path, m.event.Timestamp)
	case settleTickMsg:
		c.handleSettle()
	case syncTickMsg:
		c.startSyncPass()
	case taskMsg:
		c.handleTask(m)
	}
}

// routeInput dispatches raw input according to the current mode.
func (c *Core) routeInput(data []byte) {
	if len(data) == 0 {
		return
	}

	switch c.mode {
	case ModeInsert:
		if len(data) == 1 && data[0] == 0x1b {
			c.mode = ModeNormal
			return
		}
		c.forwardToActive(data)
	case ModeCommand:
		c.editCommand(data)
	case ModeVisual:
		if len(data) == 1 && data[0] == 0x1b {
			c.mode = ModeNormal
			return
		}
		c.normalKey(data[0])
	default:
		if len(data) == 1 && data[0] == 0x1b {
			return
		}
		c.normalKey(data[0])
	}
}

func (c *Core) normalKey(key byte) {
	switch key {
	case 'i':
		if c.active != layout.None {
			c.mode = ModeInsert
		}
	case ':':
		c.mode = ModeCommand
		c.commandBuf = ""
	case 'v':
		c.mode = ModeVisual
	case 'h':
		c.moveFocus("left")
	case 'j':
		c.moveFocus("down")
	case 'k':
		c.moveFocus("up")
	case 'l':
		c.moveFocus("right")
	case 'n':
		c.spawnSession(SpawnMsg{})
	case 'x':
		c.closeSession("")
	}
}

func (c *Core) editCommand(data []byte) {
	for _, b := range data {
		switch b {
		case '\r', '\n':
			line := c.commandBuf
			c.commandBuf = ""
			c.mode = ModeNormal
			c.executeCommand(line)
			return
		case 0x1b:
			c.commandBuf = ""
			c.mode = ModeNormal
			return
		case 0x7f, 0x08:
			if len(c.commandBuf) > 0 {
				c.commandBuf = c.commandBuf[:len(c.commandBuf)-1]
			}
		default:
			if b >= 0x20 {
				c.commandBuf += string(rune(b))
			}
		}
	}
}

func (c *Core) forwardToActive(data []byte) {
	id, ok := c.engine.LeafSession(c.active)
	if !ok {
		return
	}
	session, ok := c.registry.Get(id)
	if !ok {
		return
	}
	if err := session.Write(data); err != nil {
		if errors.Is(err, term.ErrSessionClosed) {
			c.status = "session closed"
			return
		}
		// A live write failure isolates to this session.
		c.logger.Warn("session write failed", map[string]string{
			"session": id,
			"error":   err.Error(),
		})
	}
}

func (c *Core) executeCommand(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	switch fields[0] {
	case "quit", "q":
		c.quitting = true
	case "new":
		msg := SpawnMsg{}
		if len(fields) > 1 {
			msg.Preset = fields[1]
		}
		c.spawnSession(msg)
	case "close":
		id := ""
		if len(fields) > 1 {
			id = fields[1]
		}
		c.closeSession(id)
	case "split":
		msg := SpawnMsg{Split: "horizontal"}
		if len(fields) > 1 {
			switch fields[1] {
			case "v", "vertical":
				msg.Split = "vertical"
			case "h", "horizontal":
			default:
				c.status = "usage: split [h|v]"
				return
			}
		}
		c.spawnSession(msg)
	case "layout":
		if len(fields) < 2 {
			c.status = "usage: layout <vertical|horizontal|grid|spiral|floating|tabbed|stacked>"
			return
		}
		c.setLayout(fields[1], fields[2:])
	case "worktree":
		if len(fields) < 2 {
			c.status = "usage: worktree <sync|status|commit|forget>"
			return
		}
		c.worktreeCommand(fields[1], fields[2:])
	case "save":
		c.saveDocument()
	case "focus":
		if len(fields) > 1 {
			c.moveFocus(fields[1])
		}
	case "resize":
		if len(fields) > 1 {
			c.resizeActive(fields[1])
		}
	default:
		c.status = fmt.Sprintf("unknown command %q", fields[0])
	}
}

func (c *Core) setLayout(name string, rest []string) {
	mode, tile, err := layout.ParseLayoutName(name)
	if err != nil {
		c.status = err.Error()
		return
	}
	cols := 0
	if tile == layout.TileGrid && len(rest) > 0 {
		if parsed, err := strconv.Atoi(rest[0]); err == nil {
			cols = parsed
		}
	}
	c.engine.SetMode(mode, tile, cols)
	c.applyRects()
	c.status = "layout " + name
}

func (c *Core) worktreeCommand(verb string, rest []string) {
	if c.worktrees == nil {
		c.status = "worktrees disabled"
		return
	}
	if verb == "forget" {
		// Forget can target a worktree kept after a deferred destroy, whose
		// session is already gone.
		id := ""
		if len(rest) > 0 {
			id = rest[0]
		} else if active, ok := c.engine.LeafSession(c.active); ok {
			id = active
		}
		if id == "" {
			c.status = "usage: worktree forget <session-id>"
			return
		}
		if _, ok := c.worktrees.Get(id); !ok {
			c.status = fmt.Sprintf("no worktree for %s", shortID(id))
			return
		}
		c.worktrees.Forget(id)
		delete(c.destroyPending, id)
		c.status = fmt.Sprintf("worktree record dropped for %s", shortID(id))
		return
	}
	id, ok := c.engine.LeafSession(c.active)
	if !ok {
		c.status = "no active session"
		return
	}
	switch verb {
	case "sync":
		c.startTask(taskWorktreeSync, id)
	case "status":
		c.startTask(taskWorktreeStatus, id)
	case "commit":
		message := strings.Join(rest, " ")
		gen := c.worktrees.Generation(id)
		go func() {
			err := c.worktrees.Commit(context.Background(), id, message, nil)
			c.Post(taskMsg{kind: taskWorktreeCommit, sessionID: id, generation: gen, err: err})
		}()
	default:
		c.status = fmt.Sprintf("unknown worktree command %q", verb)
	}
}

func (c *Core) resizeActive(arg string) {
	if c.active == layout.None {
		return
	}
	delta := 0.05
	if strings.HasPrefix(arg, "-") {
		delta = -0.05
	}
	if err := c.engine.Resize(c.active, delta); err != nil {
		c.status = err.Error()
		return
	}
	c.applyRects()
}

func (c *Core) moveFocus(direction string) {
	rects, _ := c.engine.ComputeRects(c.viewport, c.active)
	var dir layout.Direction
	switch direction {
	case "left":
		dir = layout.DirLeft
	case "right":
		dir = layout.DirRight
	case "up":
		dir = layout.DirUp
	case "down":
		dir = layout.DirDown
	default:
		return
	}
	if next := layout.FocusNeighbor(rects, c.active, dir); next != layout.None {
		c.active = next
	}
}

// pendingStart carries a spawn request across its background fork.
type pendingStart struct {
	msg SpawnMsg
	wt  *worktree.Worktree
}

// spawnSession enforces capacity up front, then either forks in the
// background or defers to a worktree-create task so the session starts
// inside its isolated working copy.
func (c *Core) spawnSession(msg SpawnMsg) {
	if c.registry == nil {
		return
	}
	if c.registry.LiveCount()+len(c.pendingSpawns)+len(c.pendingStarts) >= c.cfg.MaxTerminals {
		c.metrics.IncSpawnRejected()
		c.status = "session capacity exceeded"
		return
	}

	id := uuid.NewString()
	if msg.Dir == "" {
		msg.Dir = c.projectDir
	}

	if c.worktrees != nil {
		c.pendingSpawns[id] = msg
		base := c.cfg.Worktree.BaseBranch
		go func() {
			wt, err := c.worktrees.Create(context.Background(), id, base)
			c.Post(taskMsg{kind: taskWorktreeCreate, sessionID: id, err: err, created: wt})
		}()
		return
	}

	c.startSession(id, msg, nil)
}

// resolveSpec turns a spawn request into a registry spec. wt is nil when
// the session runs without a worktree.
func (c *Core) resolveSpec(id string, msg SpawnMsg, wt *worktree.Worktree) (term.SpawnSpec, bool) {
	dir := msg.Dir
	if wt != nil {
		dir = wt.Path
	}
	spec := term.SpawnSpec{ID: id, Dir: dir}
	if msg.Preset != "" {
		preset, ok := c.cfg.Presets[msg.Preset]
		if !ok {
			c.status = fmt.Sprintf("unknown preset %q", msg.Preset)
			return spec, false
		}
		spec.Command = preset.Command
		spec.Args = preset.Args
		spec.Title = preset.Title
	}
	return spec, true
}

// startSession forks the child in the background so the fork cost never
// stalls the loop; the result comes back as a taskSessionSpawn message and
// bindSession finishes the job.
func (c *Core) startSession(id string, msg SpawnMsg, wt *worktree.Worktree) {
	spec, ok := c.resolveSpec(id, msg, wt)
	if !ok {
		c.cleanupFailedSpawn(id, wt)
		return
	}
	c.pendingStarts[id] = pendingStart{msg: msg, wt: wt}
	go func() {
		_, err := c.registry.Spawn(spec)
		c.Post(taskMsg{kind: taskSessionSpawn, sessionID: id, err: err})
	}()
}

// bindSession wires a freshly spawned session into the layout and the
// conflict tracker.
func (c *Core) bindSession(id string, msg SpawnMsg, wt *worktree.Worktree) {
	dir := msg.Dir
	if wt != nil {
		dir = wt.Path
	}

	leaf := layout.None
	if msg.Split != "" && c.active != layout.None {
		orientation := layout.Horizontal
		if msg.Split == "vertical" {
			orientation = layout.Vertical
		}
		if split, err := c.engine.Split(c.active, orientation, id); err == nil {
			leaf = split
		}
	}
	if leaf == layout.None {
		leaf = c.engine.InsertLeaf(id, layout.None)
	}
	c.active = leaf
	c.tracker.Register(id, dir)
	if msg.Preset != "" {
		c.presets[id] = msg.Preset
	}
	if c.watcher != nil && wt != nil {
		if err := c.watcher.AddRoot(wt.Path); err != nil {
			c.logger.Warn("watch worktree failed", map[string]string{
				"session": id,
				"error":   err.Error(),
			})
		}
	}
	c.applyRects()
}

func (c *Core) cleanupFailedSpawn(id string, wt *worktree.Worktree) {
	if wt != nil && c.worktrees != nil {
		go func() {
			_ = c.worktrees.Destroy(context.Background(), id)
		}()
	}
}

// closeSession begins an orderly teardown. Termination waits out the grace
// window, so it runs in the background and reports back as a
// taskSessionClose message; the session shows as closing until then, and
// finalizeClose drops the leaf only once the exit is observed. In-flight
// git results for the session are invalidated first.
func (c *Core) closeSession(id string) {
	if id == "" {
		var ok bool
		id, ok = c.engine.LeafSession(c.active)
		if !ok {
			c.status = "no active session"
			return
		}
	}
	if c.pendingCloses[id] {
		return
	}
	if _, ok := c.registry.Get(id); !ok {
		c.status = "no such session"
		return
	}

	if c.worktrees != nil {
		c.worktrees.Invalidate(id)
	}

	c.pendingCloses[id] = true
	go func() {
		err := c.registry.Close(id)
		c.Post(taskMsg{kind: taskSessionClose, sessionID: id, err: err})
	}()
}

// finalizeClose removes the session's leaf and ownership entries after its
// process exit has been observed, and kicks off the worktree teardown.
func (c *Core) finalizeClose(id string) {
	if leaf, ok := c.engine.SessionLeaf(id); ok {
		_ = c.engine.RemoveLeaf(leaf)
		if c.active == leaf {
			c.active = c.lastLeaf()
		}
	}
	c.tracker.DropSession(id, c.clock.Now())
	delete(c.presets, id)
	delete(c.repoStatus, id)

	if c.worktrees != nil {
		if wt, ok := c.worktrees.Get(id); ok {
			if c.watcher != nil {
				c.watcher.RemoveRoot(wt.Path)
			}
			c.startTask(taskWorktreeDestroy, id)
		}
	}
	c.applyRects()
}

func (c *Core) lastLeaf() layout.ContainerID {
	leaves := c.engine.Leaves()
	if len(leaves) == 0 {
		return layout.None
	}
	return leaves[len(leaves)-1]
}

func (c *Core) handleSessionEvent(ev term.SessionEvent) {
	switch ev.Kind {
	case term.SessionCrashed:
		// The crash is isolated: the leaf and ownership entries stay put
		// until the user closes the session.
		c.status = fmt.Sprintf("session %s crashed (exit %d)", shortID(ev.SessionID), ev.ExitCode)
	case term.SessionClosed:
		c.status = fmt.Sprintf("session %s closed", shortID(ev.SessionID))
	}
}

func (c *Core) handleSettle() {
	events := c.tracker.SettleDue(c.clock.Now())
	for _, ev := range events {
		c.logger.Warn("file conflict", map[string]string{
			"path":     ev.Path,
			"sessions": strings.Join(ev.Sessions, ","),
		})
	}
	if len(events) > 0 {
		c.status = fmt.Sprintf("conflict: %s", events[len(events)-1].Path)
	}
}

// startSyncPass launches one background sync per session with a worktree.
// The manager's own recency guard keeps this cheap. Destroys deferred on a
// dirty tree are retried here; they succeed once the changes have been
// committed or discarded.
func (c *Core) startSyncPass() {
	if c.worktrees == nil {
		return
	}
	for id := range c.destroyPending {
		c.startTask(taskWorktreeDestroy, id)
	}
	for _, wt := range c.worktrees.List() {
		if c.destroyPending[wt.SessionID] {
			continue
		}
		c.startTask(taskWorktreeSync, wt.SessionID)
	}
}

func (c *Core) startTask(kind taskKind, sessionID string) {
	if c.worktrees == nil {
		return
	}
	gen := c.worktrees.Generation(sessionID)
	go func() {
		var msg taskMsg
		msg.kind = kind
		msg.sessionID = sessionID
		msg.generation = gen
		switch kind {
		case taskWorktreeSync:
			msg.sync, msg.err = c.worktrees.Sync(context.Background(), sessionID)
		case taskWorktreeDestroy:
			msg.err = c.worktrees.Destroy(context.Background(), sessionID)
		case taskWorktreeStatus:
			msg.repo, msg.err = c.worktrees.Status(context.Background(), sessionID)
		}
		c.Post(msg)
	}()
}

// handleTask applies a background-task result, discarding stale ones whose
// generation no longer matches.
func (c *Core) handleTask(msg taskMsg) {
	switch msg.kind {
	case taskSessionSpawn:
		pending, ok := c.pendingStarts[msg.sessionID]
		if !ok {
			return
		}
		delete(c.pendingStarts, msg.sessionID)
		if msg.err != nil {
			if errors.Is(msg.err, term.ErrCapacityExceeded) {
				c.status = "session capacity exceeded"
			} else {
				c.status = "spawn failed: " + msg.err.Error()
			}
			c.cleanupFailedSpawn(msg.sessionID, pending.wt)
			return
		}
		c.bindSession(msg.sessionID, pending.msg, pending.wt)

	case taskSessionClose:
		delete(c.pendingCloses, msg.sessionID)
		if msg.err != nil && !errors.Is(msg.err, term.ErrSessionNotFound) {
			c.logger.Warn("session close", map[string]string{
				"session": msg.sessionID,
				"error":   msg.err.Error(),
			})
		}
		c.finalizeClose(msg.sessionID)

	case taskWorktreeCreate:
		pending, ok := c.pendingSpawns[msg.sessionID]
		if !ok {
			if msg.err != nil {
				return
			}
			if _, live := c.registry.Get(msg.sessionID); live {
				// A restored session got its worktree after spawning; move
				// its attribution root and watch there.
				c.tracker.Register(msg.sessionID, msg.created.Path)
				if c.watcher != nil {
					if err := c.watcher.AddRoot(msg.created.Path); err != nil {
						c.logger.Warn("watch worktree failed", map[string]string{
							"session": msg.sessionID,
							"error":   err.Error(),
						})
					}
				}
				return
			}
			// Spawn was abandoned; drop the worktree again.
			c.cleanupFailedSpawn(msg.sessionID, msg.created)
			return
		}
		delete(c.pendingSpawns, msg.sessionID)
		if msg.err != nil {
			// Worktree failure is non-fatal: run the session degraded in
			// the project directory.
			c.logger.Warn("worktree create failed", map[string]string{
				"session": msg.sessionID,
				"error":   msg.err.Error(),
			})
			c.status = "worktree unavailable, running without isolation"
			c.startSession(msg.sessionID, pending, nil)
			return
		}
		c.startSession(msg.sessionID, pending, msg.created)

	case taskWorktreeSync:
		if c.worktrees != nil && msg.generation != c.worktrees.Generation(msg.sessionID) {
			return
		}
		if msg.err != nil {
			var gerr *worktree.GitError
			if errors.As(msg.err, &gerr) && gerr.Retryable() {
				c.logger.Warn("worktree sync failed, will retry", map[string]string{
					"session": msg.sessionID,
					"kind":    gerr.Kind.String(),
				})
			}
			return
		}
		if msg.sync.Status == worktree.StatusConflictPending {
			c.status = fmt.Sprintf("merge conflict in session %s", shortID(msg.sessionID))
		}

	case taskWorktreeCommit:
		if c.worktrees != nil && msg.generation != c.worktrees.Generation(msg.sessionID) {
			return
		}
		if msg.err != nil {
			c.status = "commit failed: " + msg.err.Error()
			return
		}
		c.status = "committed"

	case taskWorktreeStatus:
		if c.worktrees != nil && msg.generation != c.worktrees.Generation(msg.sessionID) {
			return
		}
		if msg.err != nil {
			c.status = "status failed: " + msg.err.Error()
			return
		}
		c.repoStatus[msg.sessionID] = msg.repo
		c.status = fmt.Sprintf("%s: %d changed, %d conflicted, +%d -%d",
			shortID(msg.sessionID), len(msg.repo.Changed), len(msg.repo.Conflicted),
			msg.repo.Ahead, msg.repo.Behind)

	case taskWorktreeDestroy:
		if errors.Is(msg.err, worktree.ErrDestroyDeferred) {
			c.destroyPending[msg.sessionID] = true
			c.status = fmt.Sprintf("worktree for %s has uncommitted changes, kept", shortID(msg.sessionID))
			return
		}
		delete(c.destroyPending, msg.sessionID)
		if msg.err != nil && !errors.Is(msg.err, worktree.ErrNoWorktree) {
			c.logger.Warn("worktree destroy failed", map[string]string{
				"session": msg.sessionID,
				"error":   msg.err.Error(),
			})
		}
	}
}

// applyRects recomputes the layout and pushes the new sizes to each PTY.
func (c *Core) applyRects() {
	rects, _ := c.engine.ComputeRects(c.viewport, c.active)
	if c.active == layout.None {
		c.active = c.lastLeaf()
	}
	for leaf, rect := range rects {
		id, ok := c.engine.LeafSession(leaf)
		if !ok {
			continue
		}
		session, ok := c.registry.Get(id)
		if !ok {
			continue
		}
		if rect.Width > 0 && rect.Height > 0 {
			_ = session.Resize(uint16(rect.Width), uint16(rect.Height))
		}
	}
}

func (c *Core) emitSnapshot() {
	rects, hidden := c.engine.ComputeRects(c.viewport, c.active)

	infos := []term.SessionInfo{}
	if c.registry != nil {
		infos = c.registry.List()
	}
	views := make([]SessionView, 0, len(infos))
	for _, info := range infos {
		// A session whose fork just returned but whose completion message
		// has not been processed yet has no leaf; it joins the view once
		// bound.
		if _, starting := c.pendingStarts[info.ID]; starting {
			continue
		}
		view := SessionView{
			ID:        info.ID,
			Title:     info.Title,
			Dir:       info.Dir,
			State:     info.State,
			ExitCode:  info.ExitCode,
			Preset:    c.presets[info.ID],
			Container: layout.None,
		}
		if leaf, ok := c.engine.SessionLeaf(info.ID); ok {
			view.Container = leaf
		}
		if c.worktrees != nil {
			if wt, ok := c.worktrees.Get(info.ID); ok {
				view.Branch = wt.Branch
				view.MergeStatus = wt.Status
				view.SyncedAt = wt.LastSync
				view.Degraded = wt.Degraded
			}
		}
		if repo, ok := c.repoStatus[info.ID]; ok {
			view.ChangedFiles = append([]string(nil), repo.Changed...)
			view.ConflictedFiles = append([]string(nil), repo.Conflicted...)
			view.Ahead = repo.Ahead
			view.Behind = repo.Behind
		}
		view.DestroyPending = c.destroyPending[info.ID]
		views = append(views, view)
	}

	c.snapshotSeq++
	snap := Snapshot{
		Seq:           c.snapshotSeq,
		Mode:          c.mode,
		CommandBuffer: c.commandBuf,
		Status:        c.status,
		Active:        c.active,
		Sessions:      views,
		Rects:         rects,
		Hidden:        hidden,
		Conflicts:     c.tracker.Conflicts(),
	}
	if c.watcher != nil {
		snap.WatchDegraded = c.watcher.Degraded()
	}
	c.metrics.IncSnapshotEmitted()
	c.snapshots.Publish(snap)
}

// restore rebuilds mode, layout, and sessions from the persisted document.
// Persisted session ids are remapped to the fresh ids spawned here.
func (c *Core) restore() {
	if c.statePath == "" {
		return
	}
	doc, err := LoadDocument(c.statePath)
	if err != nil {
		c.logger.Warn("workspace restore failed", map[string]string{"error": err.Error()})
		return
	}
	if doc == nil {
		return
	}

	c.mode = ParseMode(doc.Mode)
	if doc.Layout != "" {
		if mode, tile, err := layout.ParseLayoutName(doc.Layout); err == nil {
			c.engine.SetMode(mode, tile, c.cfg.Layout.GridCols)
		}
	}
	if doc.Tree == nil {
		return
	}

	remap := make(map[string]string)
	var walk func(node layout.NodeSpec)
	walk = func(node layout.NodeSpec) {
		if node.Split {
			for _, child := range node.Children {
				walk(child)
			}
			return
		}
		record := doc.Sessions[node.Session]
		id := uuid.NewString()
		dir := record.Dir
		if dir == "" {
			dir = c.projectDir
		}
		// Restore runs before the loop, so spawning inline is safe here and
		// keeps the persisted tree shape intact; worktree creation catches
		// up as a background task afterwards.
		msg := SpawnMsg{Preset: record.Preset, Dir: dir}
		spec, ok := c.resolveSpec(id, msg, nil)
		if !ok {
			return
		}
		if _, err := c.registry.Spawn(spec); err != nil {
			c.logger.Warn("restore spawn failed", map[string]string{
				"session": id,
				"error":   err.Error(),
			})
			return
		}
		c.bindSession(id, msg, nil)
		remap[node.Session] = id
		if c.worktrees != nil {
			base := c.cfg.Worktree.BaseBranch
			go func(id string) {
				wt, err := c.worktrees.Create(context.Background(), id, base)
				c.Post(taskMsg{kind: taskWorktreeCreate, sessionID: id, err: err, created: wt})
			}(id)
		}
	}
	walk(*doc.Tree)

	if err := c.engine.Rebuild(doc.Tree, func(old string) string { return remap[old] }); err != nil {
		c.logger.Warn("layout restore failed", map[string]string{"error": err.Error()})
	}
	c.active = c.lastLeaf()
	c.applyRects()
}

// saveDocument persists the workspace: mode, layout tree, and per-session
// metadata.
func (c *Core) saveDocument() {
	if c.statePath == "" {
		return
	}
	doc := Document{
		Mode:     c.mode.String(),
		Layout:   layout.LayoutName(c.engine.Mode(), c.engine.Tile()),
		Tree:     c.engine.Describe(),
		Sessions: make(map[string]SessionRecord),
	}
	for _, leaf := range c.engine.Leaves() {
		id, ok := c.engine.LeafSession(leaf)
		if !ok {
			continue
		}
		record := SessionRecord{Preset: c.presets[id]}
		if session, ok := c.registry.Get(id); ok {
			record.Dir = session.Dir
		}
		if c.worktrees != nil {
			if wt, ok := c.worktrees.Get(id); ok {
				record.Branch = wt.Branch
				// The session dir points into the worktree; persist the
				// project dir so a restore can recreate the isolation.
				record.Dir = c.projectDir
			}
		}
		doc.Sessions[id] = record
	}
	if err := doc.Save(c.statePath); err != nil {
		c.logger.Warn("workspace save failed", map[string]string{"error": err.Error()})
		c.status = "save failed"
		return
	}
	c.status = "workspace saved"
}

func (c *Core) shutdown() error {
	c.saveDocument()

	var errs []error
	if c.registry != nil {
		if err := c.registry.CloseAll(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.watcher != nil {
		c.watcher.Close()
	}
	c.snapshots.Close()
	return errors.Join(errs...)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
