// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package demux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"

	"github.com/bureau-foundation/intake/lib/attrmap"
	"github.com/bureau-foundation/intake/lib/filter"
	"github.com/bureau-foundation/intake/lib/status"
	"github.com/bureau-foundation/intake/lib/target/targettest"
)

type zipEntry struct {
	name     string
	contents string
}

func buildZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()
	var buffer bytes.Buffer
	writer := zip.NewWriter(&buffer)
	for _, entry := range entries {
		file, err := writer.Create(entry.name)
		if err != nil {
			t.Fatalf("Create(%s): %v", entry.name, err)
		}
		if _, err := io.WriteString(file, entry.contents); err != nil {
			t.Fatalf("writing %s: %v", entry.name, err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buffer.Bytes()
}

func newTestProcessor(t *testing.T) (*Processor, *targettest.Store) {
	t.Helper()
	store := &targettest.Store{}
	return New(Config{Store: store, TempDir: t.TempDir()}), store
}

func layerMeta(t *testing.T, layer *targettest.Layer) *attrmap.Map {
	t.Helper()
	meta, err := attrmap.Parse(bytes.NewReader(layer.Meta.Bytes()))
	if err != nil {
		t.Fatalf("parsing layer meta: %v", err)
	}
	return meta
}

func TestParseEntryName(t *testing.T) {
	tests := []struct {
		name      string
		base      string
		entryType EntryType
	}{
		{"001.meta", "001", Meta},
		{"001.hdr", "001", Meta},
		{"001.HEADER", "001", Meta},
		{"001.mf", "001", Manifest},
		{"001.ctx", "001", Context},
		{"001.dat", "001", Data},
		{"001.log", "001", Data},
		{"001", "001", Data},
		{"logs/001.ctx", "logs/001", Context},
		{"app.2026.dat", "app.2026", Data},
	}
	for _, test := range tests {
		base, entryType := ParseEntryName(test.name)
		if base != test.base || entryType != test.entryType {
			t.Errorf("ParseEntryName(%q) = %q, %s; want %q, %s",
				test.name, base, entryType, test.base, test.entryType)
		}
	}
}

func TestParseCompression(t *testing.T) {
	for value, want := range map[string]Compression{
		"": CompressionNone, "none": CompressionNone, "gzip": CompressionGzip, "ZIP": CompressionZip,
	} {
		got, err := ParseCompression(value)
		if err != nil || got != want {
			t.Errorf("ParseCompression(%q) = %s, %v; want %s", value, got, err, want)
		}
	}
	if _, err := ParseCompression("bzip2"); err == nil {
		t.Error("ParseCompression(bzip2) succeeded")
	}
}

func TestZeroContentLengthIsSkipped(t *testing.T) {
	processor, store := newTestProcessor(t)
	attributes := attrmap.FromPairs("Feed", "TEST-FEED", "Content-Length", "0")

	summary, err := processor.Process(context.Background(), Request{
		Attributes: attributes,
		Body:       strings.NewReader("ignored"),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if summary.Entries != 0 || len(store.Targets()) != 0 {
		t.Errorf("summary = %+v, targets = %d; want nothing processed", summary, len(store.Targets()))
	}
}

func TestUnknownCompressionIsRejected(t *testing.T) {
	processor, store := newTestProcessor(t)
	_, err := processor.Process(context.Background(), Request{
		Attributes: attrmap.FromPairs("Feed", "TEST-FEED", "Compression", "rar"),
		Body:       strings.NewReader("data"),
	})
	if err == nil || err.Code != status.UnknownCompression {
		t.Fatalf("err = %v, want UnknownCompression", err)
	}
	if len(store.Targets()) != 0 {
		t.Error("a target was opened")
	}
}

func TestPlainStream(t *testing.T) {
	processor, store := newTestProcessor(t)
	attributes := attrmap.FromPairs("Feed", "TEST-FEED", "Type", "Raw Events", "EffectiveTime", "1700000000000")

	summary, err := processor.Process(context.Background(), Request{
		Attributes: attributes,
		Body:       strings.NewReader("line one\nline two\n"),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if summary.Records != 1 || summary.Bytes != 18 {
		t.Errorf("summary = %+v", summary)
	}

	committed := store.Committed()
	if len(committed) != 1 {
		t.Fatalf("committed %d targets, want 1", len(committed))
	}
	written := committed[0]
	if written.Feed != "TEST-FEED" || written.Type != "Raw Events" || written.EffectiveTimeMs != 1700000000000 {
		t.Errorf("target = %+v", written)
	}
	if got := written.Layers[0].Data.String(); got != "line one\nline two\n" {
		t.Errorf("data = %q", got)
	}
	if got := layerMeta(t, written.Layers[0]).Get(attrmap.StreamSize); got != "18" {
		t.Errorf("StreamSize = %q, want 18", got)
	}
}

func TestGzipStream(t *testing.T) {
	processor, store := newTestProcessor(t)
	var body bytes.Buffer
	writer := gzip.NewWriter(&body)
	io.WriteString(writer, "compressed payload")
	writer.Close()

	_, err := processor.Process(context.Background(), Request{
		Attributes: attrmap.FromPairs("Feed", "TEST-FEED", "Compression", "GZIP"),
		Body:       &body,
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	committed := store.Committed()
	if len(committed) != 1 || committed[0].Layers[0].Data.String() != "compressed payload" {
		t.Fatalf("committed = %+v", committed)
	}
}

func TestInvalidGzipIsRejected(t *testing.T) {
	processor, _ := newTestProcessor(t)
	_, err := processor.Process(context.Background(), Request{
		Attributes: attrmap.FromPairs("Feed", "TEST-FEED", "Compression", "GZIP"),
		Body:       strings.NewReader("this is not gzip"),
	})
	if err == nil || err.Code != status.CompressedStreamInvalid {
		t.Fatalf("err = %v, want CompressedStreamInvalid", err)
	}
}

func TestInvalidZipIsRejected(t *testing.T) {
	processor, _ := newTestProcessor(t)
	_, err := processor.Process(context.Background(), Request{
		Attributes: attrmap.FromPairs("Feed", "TEST-FEED", "Compression", "ZIP"),
		Body:       strings.NewReader("this is not a zip"),
	})
	if err == nil || err.Code != status.CompressedStreamInvalid {
		t.Fatalf("err = %v, want CompressedStreamInvalid", err)
	}
}

func TestMetaBeforeDataSharesOneTarget(t *testing.T) {
	processor, store := newTestProcessor(t)
	body := buildZip(t,
		zipEntry{"001.meta", "Feed:X\nSystem:one\n"},
		zipEntry{"002.meta", "Feed:X\nSystem:two\n"},
		zipEntry{"001.dat", "first"},
		zipEntry{"002.dat", "second record"},
	)

	summary, err := processor.Process(context.Background(), Request{
		Attributes: attrmap.FromPairs("Compression", "ZIP"),
		Body:       bytes.NewReader(body),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if summary.Entries != 4 || summary.Records != 2 || summary.Targets != 1 {
		t.Errorf("summary = %+v, want 4 entries, 2 records, 1 target", summary)
	}

	targets := store.Targets()
	if len(targets) != 1 {
		t.Fatalf("opened %d targets, want 1", len(targets))
	}
	written := targets[0]
	if written.Feed != "X" || !written.Closed || len(written.Layers) != 2 {
		t.Fatalf("target = %+v", written)
	}
	for i, want := range []struct{ data, system, size string }{
		{"first", "one", "5"},
		{"second record", "two", "13"},
	} {
		layer := written.Layers[i]
		meta := layerMeta(t, layer)
		if layer.Data.String() != want.data || meta.Get("System") != want.system || meta.Get(attrmap.StreamSize) != want.size {
			t.Errorf("layer %d: data %q, meta %q", i, layer.Data.String(), meta.String())
		}
	}
}

func TestFeedSwitchAfterDataIsOutOfOrder(t *testing.T) {
	processor, store := newTestProcessor(t)
	body := buildZip(t,
		zipEntry{"000.meta", "Feed:X\n"},
		zipEntry{"000.dat", "earlier"},
		zipEntry{"001.dat", "written under X"},
		zipEntry{"001.meta", "Feed:Y\n"},
	)

	_, err := processor.Process(context.Background(), Request{
		Attributes: attrmap.FromPairs("Feed", "X", "Compression", "ZIP"),
		Body:       bytes.NewReader(body),
	})
	if err == nil || err.Code != status.OutOfOrderFeed {
		t.Fatalf("err = %v, want OutOfOrderFeed", err)
	}
	if committed := store.Committed(); len(committed) != 0 {
		t.Errorf("committed %d targets after failure, want 0", len(committed))
	}
	for _, opened := range store.Targets() {
		if !opened.Deleted {
			t.Errorf("target for %s not deleted", opened.Feed)
		}
	}
}

func TestMetaAfterDataWithSameFeed(t *testing.T) {
	processor, store := newTestProcessor(t)
	body := buildZip(t,
		zipEntry{"001.dat", "payload"},
		zipEntry{"001.ctx", "context"},
		zipEntry{"001.meta", "Feed:X\nStreamSize:999\n"},
	)

	_, err := processor.Process(context.Background(), Request{
		Attributes: attrmap.FromPairs("Feed", "X", "Compression", "ZIP"),
		Body:       bytes.NewReader(body),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	layer := store.Committed()[0].Layers[0]
	if layer.Context.String() != "context" {
		t.Errorf("context = %q", layer.Context.String())
	}
	if got := layerMeta(t, layer).Get(attrmap.StreamSize); got != "999" {
		t.Errorf("StreamSize = %q, want the supplied 999", got)
	}
}

func TestRepeatedTypeStartsNewRecord(t *testing.T) {
	processor, store := newTestProcessor(t)
	body := buildZip(t,
		zipEntry{"001.dat", "a"},
		zipEntry{"001.dat", "b"},
	)

	summary, err := processor.Process(context.Background(), Request{
		Attributes: attrmap.FromPairs("Feed", "X", "Compression", "ZIP"),
		Body:       bytes.NewReader(body),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if summary.Records != 2 || len(store.Committed()[0].Layers) != 2 {
		t.Errorf("summary = %+v, want two records in one target", summary)
	}
}

func TestReceiptKeysComeFromRequest(t *testing.T) {
	processor, store := newTestProcessor(t)
	body := buildZip(t,
		zipEntry{"001.meta", "ReceiptId:forged\nSystem:embedded\n"},
		zipEntry{"001.dat", "data"},
	)

	_, err := processor.Process(context.Background(), Request{
		Attributes: attrmap.FromPairs("Feed", "X", "Compression", "ZIP", "ReceiptId", "genuine", "System", "request"),
		Body:       bytes.NewReader(body),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	meta := layerMeta(t, store.Committed()[0].Layers[0])
	if got := meta.Get(attrmap.ReceiptID); got != "genuine" {
		t.Errorf("ReceiptId = %q, want genuine", got)
	}
	if got := meta.Get("System"); got != "embedded" {
		t.Errorf("System = %q, want the embedded value", got)
	}
}

func TestOverrideEmbeddedMeta(t *testing.T) {
	processor, store := newTestProcessor(t)
	body := buildZip(t,
		zipEntry{"001.meta", "System:embedded\nEnvironment:prod\n"},
		zipEntry{"001.dat", "data"},
	)

	_, err := processor.Process(context.Background(), Request{
		Attributes: attrmap.FromPairs("Feed", "X", "Compression", "ZIP", "System", "request", "OverrideEmbeddedMeta", "true"),
		Body:       bytes.NewReader(body),
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	meta := layerMeta(t, store.Committed()[0].Layers[0])
	if meta.Get("System") != "request" || meta.Get("Environment") != "prod" {
		t.Errorf("meta = %q", meta.String())
	}
}

func TestAdmitDropsOtherFeeds(t *testing.T) {
	processor, store := newTestProcessor(t)
	body := buildZip(t,
		zipEntry{"001.dat", "for X"},
		zipEntry{"002.meta", "Feed:Y\n"},
		zipEntry{"002.dat", "for Y"},
		zipEntry{"003.dat", "for X again"},
	)
	var admitted []string

	summary, err := processor.Process(context.Background(), Request{
		Attributes: attrmap.FromPairs("Feed", "X", "Compression", "ZIP"),
		Body:       bytes.NewReader(body),
		Admit: func(_ context.Context, attributes *attrmap.Map) filter.Result {
			admitted = append(admitted, attributes.Get(attrmap.Feed))
			return filter.Drop()
		},
	})
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(admitted) != 1 || admitted[0] != "Y" {
		t.Errorf("admitted = %v, want only Y", admitted)
	}
	if summary.Dropped != 1 || summary.Records != 2 {
		t.Errorf("summary = %+v", summary)
	}
	committed := store.Committed()
	if len(committed) != 1 || committed[0].Feed != "X" || len(committed[0].Layers) != 2 {
		t.Fatalf("committed = %+v", committed)
	}
}

func TestAdmitRejectFailsRequest(t *testing.T) {
	processor, store := newTestProcessor(t)
	body := buildZip(t,
		zipEntry{"001.dat", "for X"},
		zipEntry{"002.meta", "Feed:Y\n"},
		zipEntry{"002.dat", "for Y"},
	)

	_, err := processor.Process(context.Background(), Request{
		Attributes: attrmap.FromPairs("Feed", "X", "Compression", "ZIP"),
		Body:       bytes.NewReader(body),
		Admit: func(context.Context, *attrmap.Map) filter.Result {
			return filter.Reject(status.New(status.FeedIsNotDefined, "Y"))
		},
	})
	if err == nil || err.Code != status.FeedIsNotDefined {
		t.Fatalf("err = %v, want FeedIsNotDefined", err)
	}
	if len(store.Committed()) != 0 {
		t.Error("data committed after rejection")
	}
}

func TestMissingFeedInContainer(t *testing.T) {
	processor, _ := newTestProcessor(t)
	body := buildZip(t, zipEntry{"001.dat", "orphan"})
	_, err := processor.Process(context.Background(), Request{
		Attributes: attrmap.FromPairs("Compression", "ZIP"),
		Body:       bytes.NewReader(body),
	})
	if err == nil || err.Code != status.FeedMustBeSpecified {
		t.Fatalf("err = %v, want FeedMustBeSpecified", err)
	}
}

func TestOversizedMetaIsRejected(t *testing.T) {
	store := &targettest.Store{}
	processor := New(Config{Store: store, TempDir: t.TempDir(), MaxMetaSize: 16})
	body := buildZip(t,
		zipEntry{"001.meta", "Feed:X\nDescription:far too long for the limit\n"},
		zipEntry{"001.dat", "data"},
	)
	_, err := processor.Process(context.Background(), Request{
		Attributes: attrmap.FromPairs("Compression", "ZIP"),
		Body:       bytes.NewReader(body),
	})
	if err == nil || err.Code != status.CompressedStreamInvalid {
		t.Fatalf("err = %v, want CompressedStreamInvalid", err)
	}
}

// cancellingReader cancels its context after the first read.
type cancellingReader struct {
	cancel context.CancelFunc
	done   bool
}

func (r *cancellingReader) Read(buffer []byte) (int, error) {
	if r.done {
		return copy(buffer, "more"), nil
	}
	r.done = true
	r.cancel()
	return copy(buffer, "first"), nil
}

func TestCancellationDeletesTargets(t *testing.T) {
	processor, store := newTestProcessor(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := processor.Process(ctx, Request{
		Attributes: attrmap.FromPairs("Feed", "X"),
		Body:       &cancellingReader{cancel: cancel},
	})
	if err == nil {
		t.Fatal("Process succeeded after cancellation")
	}
	targets := store.Targets()
	if len(targets) != 1 || !targets[0].Deleted {
		t.Fatalf("targets = %+v, want one deleted target", targets)
	}
}

func TestFailedCloseDeletesEveryTarget(t *testing.T) {
	store := &targettest.Store{CloseErrors: map[string]error{"Y": errors.New("disk full")}}
	processor := New(Config{Store: store, TempDir: t.TempDir()})
	body := buildZip(t,
		zipEntry{"001.dat", "for X"},
		zipEntry{"002.meta", "Feed:Y\n"},
		zipEntry{"002.dat", "for Y"},
	)

	_, err := processor.Process(context.Background(), Request{
		Attributes: attrmap.FromPairs("Feed", "X", "Compression", "ZIP"),
		Body:       bytes.NewReader(body),
	})
	if err == nil || err.Code != status.UnknownError {
		t.Fatalf("Process error = %v, want UnknownError", err)
	}
	targets := store.Targets()
	if len(targets) != 2 {
		t.Fatalf("opened %d targets, want 2", len(targets))
	}
	for _, opened := range targets {
		if !opened.Deleted {
			t.Errorf("target for %s left in place", opened.Feed)
		}
	}
	if committed := store.Committed(); len(committed) != 0 {
		t.Errorf("committed = %+v, want none", committed)
	}
}
