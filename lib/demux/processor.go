// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package demux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/bureau-foundation/intake/lib/attrmap"
	"github.com/bureau-foundation/intake/lib/filter"
	"github.com/bureau-foundation/intake/lib/policy"
	"github.com/bureau-foundation/intake/lib/status"
	"github.com/bureau-foundation/intake/lib/target"
)

// DefaultMaxMetaSize bounds a single buffered meta or manifest entry.
const DefaultMaxMetaSize = 1 << 20

// Config configures a Processor.
type Config struct {
	Store   target.Store
	Catalog target.FeedCatalog

	// OneEntryPerContainer gives every record its own target.
	OneEntryPerContainer bool

	// MaxMetaSize bounds buffered entries. Defaults to
	// DefaultMaxMetaSize.
	MaxMetaSize int64

	// TempDir holds zip bodies while they are read. Empty uses the
	// system temporary directory.
	TempDir string

	Logger *slog.Logger
}

// Request is one body to demultiplex.
type Request struct {
	// Attributes are the request's attributes after authentication
	// and filtering. They are read, never modified.
	Attributes *attrmap.Map

	Body io.Reader

	// Admit is consulted before opening a target for a record whose
	// Feed differs from the request's. A Drop result discards the
	// record; a Reject result fails the request. Nil admits every
	// record.
	Admit func(ctx context.Context, attributes *attrmap.Map) filter.Result
}

// Summary counts what a request produced.
type Summary struct {
	Entries int
	Records int
	Dropped int
	Targets int
	Bytes   int64
}

// Processor demultiplexes request bodies into targets. It holds no
// per-request state and is safe for concurrent use.
type Processor struct {
	store                target.Store
	catalog              target.FeedCatalog
	oneEntryPerContainer bool
	maxMetaSize          int64
	tempDir              string
	logger               *slog.Logger
}

// New returns a Processor for config.
func New(config Config) *Processor {
	if config.MaxMetaSize <= 0 {
		config.MaxMetaSize = DefaultMaxMetaSize
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Processor{
		store:                config.Store,
		catalog:              config.Catalog,
		oneEntryPerContainer: config.OneEntryPerContainer,
		maxMetaSize:          config.MaxMetaSize,
		tempDir:              config.TempDir,
		logger:               config.Logger,
	}
}

// Process reads request.Body and writes every record it holds. On
// success every target is closed; on any failure, including ctx
// cancellation or a target failing to close, every target this request
// opened is deleted.
//
// A Content-Length of exactly "0" skips the body without opening
// anything.
func (p *Processor) Process(ctx context.Context, request Request) (Summary, *status.Error) {
	attributes := request.Attributes
	if strings.TrimSpace(attributes.Get(attrmap.ContentLength)) == "0" {
		p.logger.Debug("skipping empty request", "feed", attributes.Get(attrmap.Feed))
		return Summary{}, nil
	}
	compression, err := ParseCompression(attributes.Get(attrmap.Compression))
	if err != nil {
		return Summary{}, status.Wrap(status.UnknownCompression, err, attributes.Get(attrmap.Compression))
	}

	router := target.NewRouter(target.RouterConfig{
		Store:                p.store,
		Catalog:              p.catalog,
		OneEntryPerContainer: p.oneEntryPerContainer,
		Logger:               p.logger,
	})
	r := &run{
		processor:   p,
		ctx:         ctx,
		router:      router,
		request:     attributes,
		requestFeed: attributes.Get(attrmap.Feed),
		override:    strings.EqualFold(attributes.Get(attrmap.OverrideEmbeddedMeta), "true"),
		admit:       request.Admit,
		pendingMeta: make(map[string]*attrmap.Map),
	}

	switch compression {
	case CompressionNone:
		err = r.single(contextReader{ctx: ctx, reader: request.Body})
	case CompressionGzip:
		err = r.gzip(request.Body)
	case CompressionZip:
		err = r.zip(request.Body)
	}
	r.summary.Targets = router.Opened()

	if err != nil {
		if deleteErr := router.DeleteAll(ctx); deleteErr != nil {
			p.logger.Error("deleting targets after failure", "error", deleteErr)
		}
		p.logger.Info("request failed",
			"feed", r.requestFeed, "compression", compression.String(),
			"state", r.state.String(), "error", err)
		return r.summary, status.From(err)
	}
	if err := router.CloseAll(); err != nil {
		if deleteErr := router.DeleteAll(ctx); deleteErr != nil {
			p.logger.Error("deleting targets after failed close", "error", deleteErr)
		}
		p.logger.Error("closing targets", "feed", r.requestFeed, "error", err)
		return r.summary, status.Wrap(status.UnknownError, err, "closing targets")
	}
	return r.summary, nil
}

// state is where the processor is within the entry stream.
type state int

const (
	betweenEntries state = iota
	inMeta
	inContext
	inData
)

func (s state) String() string {
	switch s {
	case betweenEntries:
		return "between entries"
	case inMeta:
		return "in meta"
	case inContext:
		return "in context"
	case inData:
		return "in data"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func stateFor(entryType EntryType) state {
	switch entryType {
	case Context:
		return inContext
	case Data:
		return inData
	default:
		return inMeta
	}
}

// run is the state of one Process call.
type run struct {
	processor   *Processor
	ctx         context.Context
	router      *target.Router
	request     *attrmap.Map
	requestFeed string
	override    bool
	admit       func(context.Context, *attrmap.Map) filter.Result

	state   state
	current *group

	// pendingMeta holds the attributes of groups that ended before
	// their data arrived, keyed by base name.
	pendingMeta map[string]*attrmap.Map

	summary Summary
}

// group is the entries of one base name up to the point where an entry
// type repeats or the base name changes. A group is one record.
type group struct {
	base string
	seen [Data + 1]bool
	meta *attrmap.Map

	provider target.Provider
	feed     string
	typeName string
	dropped  bool
	hasData  bool
	dataSize int64
}

func (g *group) opened() bool {
	return g.provider != nil || g.dropped
}

// single handles an uncompressed or gzip body: one record whose meta
// is the request's attributes.
func (r *run) single(reader io.Reader) error {
	if err := r.entry("", Data, reader); err != nil {
		return err
	}
	return r.finish()
}

func (r *run) gzip(body io.Reader) error {
	reader, err := gzip.NewReader(contextReader{ctx: r.ctx, reader: body})
	if err != nil {
		return r.invalid(err, "reading gzip header")
	}
	defer reader.Close()
	return r.single(decodeReader{run: r, reader: reader})
}

func (r *run) zip(body io.Reader) error {
	spool, err := os.CreateTemp(r.processor.tempDir, "intake-*.zip")
	if err != nil {
		return fmt.Errorf("demux: creating spool file: %w", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()
	size, err := io.Copy(spool, contextReader{ctx: r.ctx, reader: body})
	if err != nil {
		return fmt.Errorf("demux: reading request body: %w", err)
	}

	archive, err := zip.NewReader(spool, size)
	if err != nil {
		return r.invalid(err, "reading zip directory")
	}
	for _, file := range archive.File {
		if file.FileInfo().IsDir() {
			continue
		}
		base, entryType := ParseEntryName(file.Name)
		contents, err := file.Open()
		if err != nil {
			return r.invalid(err, fmt.Sprintf("opening entry %q", file.Name))
		}
		err = r.entry(base, entryType, decodeReader{run: r, reader: contextReader{ctx: r.ctx, reader: contents}})
		contents.Close()
		if err != nil {
			return fmt.Errorf("entry %q: %w", file.Name, err)
		}
	}
	return r.finish()
}

// entry consumes one entry. A repeated entry type or a new base name
// closes the current group first.
func (r *run) entry(base string, entryType EntryType, reader io.Reader) error {
	r.summary.Entries++
	if r.current == nil || r.current.base != base || r.current.seen[entryType] {
		if err := r.finishGroup(); err != nil {
			return err
		}
		r.current = r.startGroup(base)
	}
	g := r.current
	g.seen[entryType] = true

	r.state = stateFor(entryType)
	var err error
	if entryType.buffered() {
		err = r.mergeMeta(g, entryType, reader)
	} else {
		err = r.stream(g, entryType, reader)
	}
	if err != nil {
		return err
	}
	r.state = betweenEntries
	return nil
}

func (r *run) startGroup(base string) *group {
	g := &group{base: base, meta: r.pendingMeta[base]}
	delete(r.pendingMeta, base)
	return g
}

// mergeMeta buffers a meta or manifest entry into the group. Meta
// overrides what the group already holds; a manifest only fills gaps.
func (r *run) mergeMeta(g *group, entryType EntryType, reader io.Reader) error {
	limit := r.processor.maxMetaSize
	contents, err := io.ReadAll(io.LimitReader(reader, limit+1))
	if err != nil {
		return err
	}
	if int64(len(contents)) > limit {
		return status.Errorf(status.CompressedStreamInvalid,
			"%s entry for %q exceeds %d bytes", entryType, g.base, limit)
	}
	parsed, err := attrmap.Parse(bytes.NewReader(contents))
	if err != nil {
		return status.Wrap(status.CompressedStreamInvalid, err, "unreadable "+entryType.String()+" entry")
	}

	switch {
	case g.meta == nil:
		g.meta = parsed
	case entryType == Manifest:
		attrmap.MergeFillAbsent(g.meta, parsed)
	default:
		attrmap.MergeOverride(g.meta, parsed)
	}

	if !g.opened() {
		return nil
	}
	effective := r.effective(g.meta)
	if feed := effective.Get(attrmap.Feed); feed != g.feed {
		return status.Errorf(status.OutOfOrderFeed,
			"%s for %q names feed %s after its data was written to %s", entryType, g.base, feed, g.feed)
	}
	if typeName := effective.Get(attrmap.Type); typeName != g.typeName {
		return status.Errorf(status.OutOfOrderFeed,
			"%s for %q names type %q after its data was written as %q", entryType, g.base, typeName, g.typeName)
	}
	return nil
}

// stream copies a context or data entry into the group's layer,
// opening the layer on first use.
func (r *run) stream(g *group, entryType EntryType, reader io.Reader) error {
	if !g.opened() {
		if err := r.open(g); err != nil {
			return err
		}
	}

	var writer io.Writer = io.Discard
	if !g.dropped {
		streamType := target.Data
		if entryType == Context {
			streamType = target.Context
		}
		var err error
		writer, err = g.provider.Writer(streamType)
		if err != nil {
			return err
		}
	}

	written, err := io.Copy(writer, reader)
	if entryType == Data {
		g.hasData = true
		g.dataSize += written
		if !g.dropped {
			r.summary.Bytes += written
		}
	}
	return err
}

func (r *run) open(g *group) error {
	effective := r.effective(g.meta)
	g.feed = effective.Get(attrmap.Feed)
	g.typeName = effective.Get(attrmap.Type)
	if g.feed == "" {
		return status.Errorf(status.FeedMustBeSpecified, "no feed for %q", g.base)
	}

	if r.admit != nil && g.feed != r.requestFeed {
		result := r.admit(r.ctx, effective)
		switch result.Action {
		case policy.Reject:
			if result.Err != nil {
				return result.Err
			}
			return status.New(status.RejectedByPolicyRules, g.feed)
		case policy.Drop:
			r.processor.logger.Debug("dropping record", "feed", g.feed, "base", g.base)
			g.dropped = true
			r.summary.Dropped++
			return nil
		}
	}

	provider, err := r.router.NextLayer(r.ctx, g.feed, g.typeName, effectiveTime(effective))
	if err != nil {
		return err
	}
	g.provider = provider
	r.summary.Records++
	return nil
}

// finishGroup writes the current group's meta and closes its layer.
// A group with no context or data keeps its meta pending for a later
// group of the same base name.
func (r *run) finishGroup() error {
	g := r.current
	r.current = nil
	if g == nil {
		return nil
	}
	if !g.opened() {
		if g.meta != nil {
			r.pendingMeta[g.base] = g.meta
		}
		return nil
	}
	if g.dropped {
		return nil
	}

	meta := r.effective(g.meta)
	if g.hasData {
		if !meta.Contains(attrmap.StreamSize) {
			meta.Put(attrmap.StreamSize, strconv.FormatInt(g.dataSize, 10))
		}
		if g.dataSize == 0 {
			r.processor.logger.Warn("zero length data entry", "feed", g.feed, "base", g.base)
		}
	} else {
		r.processor.logger.Warn("record has context but no data", "feed", g.feed, "base", g.base)
	}

	writer, err := g.provider.Writer(target.Meta)
	if err != nil {
		return err
	}
	if _, err := meta.WriteTo(writer); err != nil {
		return err
	}
	return g.provider.Close()
}

// finish closes the last group and reports meta that never met its
// data.
func (r *run) finish() error {
	if err := r.finishGroup(); err != nil {
		return err
	}
	orphans := make([]string, 0, len(r.pendingMeta))
	for base := range r.pendingMeta {
		orphans = append(orphans, base)
	}
	slices.Sort(orphans)
	for _, base := range orphans {
		r.processor.logger.Warn("meta entry without data", "feed", r.requestFeed, "base", base)
	}
	return nil
}

// effective layers a group's meta over the request attributes. The
// receiver-owned keys always come from the request.
func (r *run) effective(meta *attrmap.Map) *attrmap.Map {
	effective := r.request.Clone()
	if meta != nil {
		if r.override {
			attrmap.MergeFillAbsent(effective, meta)
		} else {
			attrmap.MergeOverride(effective, meta)
		}
	}
	attrmap.MergeOverride(effective, r.request.Subset(attrmap.ReceiptKeys...))
	return effective
}

func (r *run) invalid(err error, detail string) error {
	if ctxErr := r.ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return status.Wrap(status.CompressedStreamInvalid, err, detail)
}

// effectiveTime reads EffectiveTime as epoch milliseconds or RFC 3339.
// Absent or unparseable values give 0.
func effectiveTime(attributes *attrmap.Map) int64 {
	if millis, ok := attributes.Int64(attrmap.EffectiveTime); ok {
		return millis
	}
	parsed, err := time.Parse(time.RFC3339Nano, attributes.Get(attrmap.EffectiveTime))
	if err != nil {
		return 0
	}
	return parsed.UnixMilli()
}

// contextReader fails reads once ctx is done.
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r contextReader) Read(buffer []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.reader.Read(buffer)
}

// decodeReader reports decompression failures as an invalid stream.
type decodeReader struct {
	run    *run
	reader io.Reader
}

func (r decodeReader) Read(buffer []byte) (int, error) {
	n, err := r.reader.Read(buffer)
	if err != nil && err != io.EOF {
		var statusError *status.Error
		if !errors.As(err, &statusError) {
			err = r.run.invalid(err, "decompressing")
		}
	}
	return n, err
}
