// Package filesync moves wallpapers between this device and the relay.
//
// Outbound: Sync announces a local file with SYNC, answers READYDATA with
// the payload and forgets it on EXISTS.
//
// Inbound: WALL names a file. A cached copy is applied immediately;
// otherwise the engine registers a one-shot route keyed by the identifier,
// sends REQUESTDATA and writes the payload into the cache when it arrives.
//
// An Engine is not safe for concurrent use. All methods, and the routes it
// registers, run on the connection's event loop.
package filesync

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/sam-hudson02/wallsync-client/internal/cache"
	"github.com/sam-hudson02/wallsync-client/internal/logging"
	"github.com/sam-hudson02/wallsync-client/internal/metrics"
	"github.com/sam-hudson02/wallsync-client/internal/router"
	"github.com/sam-hudson02/wallsync-client/pkg/protocol"
)

var (
	ErrMissingFile       = errors.New("file does not exist")
	ErrEmptyFile         = errors.New("file is empty")
	ErrUnsupportedImage  = errors.New("unsupported image extension")
	ErrInvalidIdentifier = errors.New("invalid file identifier")
)

// Sender writes one "KEY: value" line to the relay.
type Sender interface {
	Send(key, value string) error
}

// Applier sets the wallpaper to a local file.
type Applier interface {
	Apply(path string) error
}

// Engine runs the transfer protocol.
type Engine struct {
	cache   *cache.Cache
	applier Applier
	router  *router.Router
	sender  Sender

	// location -> base64 payload, until EXISTS
	pending map[string]string
}

// New creates an engine. The router must be the one the connection
// dispatches through, so one-shot payload routes are reachable.
func New(c *cache.Cache, applier Applier, r *router.Router, sender Sender) *Engine {
	return &Engine{
		cache:   c,
		applier: applier,
		router:  r,
		sender:  sender,
		pending: make(map[string]string),
	}
}

// Routes returns the fixed routes the engine serves.
func (e *Engine) Routes() []router.Route {
	return []router.Route{
		{Key: protocol.KeyReadyData, Handler: e.onReadyData},
		{Key: protocol.KeyWall, Handler: e.onWall},
		{Key: protocol.KeyExists, Handler: e.onExists},
	}
}

// ValidateIdentifier checks that id is "<uuid>.<jpg|jpeg|png>".
func ValidateIdentifier(id string) error {
	stem, ext, ok := strings.Cut(id, ".")
	if !ok || strings.Contains(ext, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	switch ext {
	case "jpg", "jpeg", "png":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	// uuid.Parse also accepts urn and braced forms; only the plain 36
	// character form is a valid identifier.
	if len(stem) != 36 {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	if _, err := uuid.Parse(stem); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, id)
	}
	return nil
}

// Sync pushes a local image using its base name, extension included, as
// the location. Relays that expect a bare stem are served through Push.
func (e *Engine) Sync(path string) error {
	return e.Push(path, filepath.Base(path))
}

// Push announces a local image under location and holds its payload until
// the relay acknowledges it. Validation failures send nothing.
func (e *Engine) Push(path, location string) error {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrMissingFile, path)
	}
	if !protocol.IsImage(path) {
		return fmt.Errorf("%w: %s", ErrUnsupportedImage, path)
	}
	if location == "" || strings.ContainsAny(location, ":\n") {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, location)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	// An empty payload would encode to a line with no value.
	if len(data) == 0 {
		return fmt.Errorf("%w: %s", ErrEmptyFile, path)
	}

	e.pending[location] = base64.StdEncoding.EncodeToString(data)
	metrics.SetPendingUploads(len(e.pending))
	logging.Info("syncing", logging.String("path", path), logging.String("location", location))

	if err := e.sender.Send(protocol.KeySync, location); err != nil {
		return fmt.Errorf("announce %s: %w", location, err)
	}
	return nil
}

// Pending returns the number of uploads awaiting acknowledgment.
func (e *Engine) Pending() int {
	return len(e.pending)
}

// IsPending reports whether location awaits acknowledgment.
func (e *Engine) IsPending(location string) bool {
	_, ok := e.pending[location]
	return ok
}

func (e *Engine) onReadyData(location string) {
	data, ok := e.pending[location]
	if !ok {
		logging.Warn("no data", logging.String("location", location))
		return
	}
	if err := e.sender.Send(location, data); err != nil {
		logging.Error("send payload", logging.String("location", location), logging.Err(err))
		metrics.RecordTransfer(metrics.Outbound, 0, false)
		return
	}
	metrics.RecordTransfer(metrics.Outbound, int64(base64.StdEncoding.DecodedLen(len(data))), true)
}

func (e *Engine) onExists(location string) {
	if _, ok := e.pending[location]; !ok {
		return
	}
	delete(e.pending, location)
	metrics.SetPendingUploads(len(e.pending))
	logging.Info("relay has file", logging.String("location", location))
}

func (e *Engine) onWall(id string) {
	logging.Info("received wallpaper", logging.String("id", id))
	if err := ValidateIdentifier(id); err != nil {
		logging.Warn("ignoring wallpaper", logging.Err(err))
		return
	}

	if e.cache.Has(id) {
		logging.Info("wallpaper cached, applying", logging.String("id", id))
		e.apply(id)
		return
	}

	if _, err := e.cache.Manage(); err != nil {
		logging.Error("cache maintenance", logging.Err(err))
	}

	e.router.AddRoutes(router.Route{
		Key:     id,
		Handler: func(payload string) { e.deliver(id, payload) },
	})
	if err := e.sender.Send(protocol.KeyRequestData, id); err != nil {
		logging.Error("request wallpaper", logging.String("id", id), logging.Err(err))
		e.router.DeleteRoute(id)
	}
}

// deliver handles the payload for a one-shot route.
func (e *Engine) deliver(id, payload string) {
	defer e.router.DeleteRoute(id)

	if err := ValidateIdentifier(id); err != nil {
		logging.Warn("dropping payload", logging.Err(err))
		metrics.RecordTransfer(metrics.Inbound, 0, false)
		return
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		logging.Error("decode payload", logging.String("id", id), logging.Err(err))
		metrics.RecordTransfer(metrics.Inbound, 0, false)
		return
	}

	path, err := e.cache.Put(id, bytes.NewReader(data))
	if err != nil {
		logging.Error("save wallpaper", logging.String("id", id), logging.Err(err))
		metrics.RecordTransfer(metrics.Inbound, 0, false)
		return
	}
	metrics.RecordTransfer(metrics.Inbound, int64(len(data)), true)
	logging.Info("saved wallpaper", logging.String("path", path))

	if _, err := e.cache.Manage(id); err != nil {
		logging.Error("cache maintenance", logging.Err(err))
	}
	e.apply(id)
}

func (e *Engine) apply(id string) {
	if err := e.applier.Apply(e.cache.Path(id)); err != nil {
		logging.Error("apply wallpaper", logging.String("id", id), logging.Err(err))
	}
}
