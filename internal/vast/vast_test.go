package vast

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/thenexusengine/tne_dooh/pkg/redis"
)

const scheduleDoc = `<?xml version="1.0" encoding="UTF-8"?>
<VAST version="2.0">
  <Ad id="1">
    <InLine>
      <AdSystem>Hivestack</AdSystem>
      <Impression><![CDATA[ https://hs.example.com/imp?id=42 ]]></Impression>
      <Creatives>
        <Creative>
          <Linear>
            <Duration>00:00:15</Duration>
            <MediaFiles>
              <MediaFile type="video/mp4" width="1920" height="1080">
                <![CDATA[https://cdn.example.com/spot.mp4]]>
              </MediaFile>
            </MediaFiles>
          </Linear>
        </Creative>
      </Creatives>
    </InLine>
  </Ad>
</VAST>`

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule([]byte(scheduleDoc))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.ImpressionURL != "https://hs.example.com/imp?id=42" {
		t.Errorf("unexpected impression %q", s.ImpressionURL)
	}
	if s.MediaURL != "https://cdn.example.com/spot.mp4" {
		t.Errorf("unexpected media %q", s.MediaURL)
	}
	if s.MimeType != "video/mp4" {
		t.Errorf("unexpected type %q", s.MimeType)
	}
}

func TestParseSchedule_NoAd(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty vast", `<VAST version="2.0"></VAST>`},
		{"other version", strings.Replace(scheduleDoc, `version="2.0"`, `version="3.0"`, 1)},
		{"other ad id", strings.Replace(scheduleDoc, `Ad id="1"`, `Ad id="7"`, 1)},
		{"not vast", `<html></html>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSchedule([]byte(tt.body)); !errors.Is(err, ErrNoAd) {
				t.Errorf("expected ErrNoAd, got %v", err)
			}
		})
	}

	if _, err := ParseSchedule([]byte("<VAST version=\"2.0\"><Ad")); err == nil {
		t.Error("expected error for malformed xml")
	}
}

func TestBuild_RoundTrip(t *testing.T) {
	doc, err := Build(Linear{
		ImpressionURL: "https://pop.example.com/p?a=1&b=2",
		Duration:      83500 * time.Millisecond,
		Width:         1920,
		Height:        1080,
		MimeType:      "video/mp4",
		MediaURL:      "https://cdn.example.com/a.mp4",
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for _, want := range []string{
		`<?xml version="1.0"?>`,
		`<VAST version="2.0">`,
		`<Ad id="1" sequence="1">`,
		`<Duration>00:01:23</Duration>`,
		`<MediaFile width="1920" height="1080" type="video/mp4" delivery="progressive">`,
		`<![CDATA[https://pop.example.com/p?a=1&b=2]]>`,
	} {
		if !strings.Contains(doc, want) {
			t.Errorf("document missing %q:\n%s", want, doc)
		}
	}

	s, err := ParseSchedule([]byte(doc))
	if err != nil {
		t.Fatalf("built document does not parse: %v", err)
	}
	if s.ImpressionURL != "https://pop.example.com/p?a=1&b=2" || s.MediaURL != "https://cdn.example.com/a.mp4" || s.MimeType != "video/mp4" {
		t.Errorf("unexpected round trip %+v", s)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "00:00:00"},
		{15 * time.Second, "00:00:15"},
		{15999 * time.Millisecond, "00:00:15"},
		{61 * time.Minute, "01:01:00"},
		{25*time.Hour + 2*time.Second, "25:00:02"},
		{-time.Second, "00:00:00"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestLocalStore(t *testing.T) {
	s := NewLocalStore(1024*1024, time.Hour)
	ctx := context.Background()

	if _, ok, err := s.Get(ctx, "missing"); ok || err != nil {
		t.Errorf("expected miss, got %v %v", ok, err)
	}
	s.Put(ctx, DocumentKey("disp-1", "2"), "<VAST/>")
	doc, ok, err := s.Get(ctx, "disp-12")
	if !ok || err != nil || doc != "<VAST/>" {
		t.Errorf("unexpected get %q %v %v", doc, ok, err)
	}
	if s.Len() != 1 {
		t.Errorf("expected 1 entry, got %d", s.Len())
	}
}

func TestLocalStore_EntryLimit(t *testing.T) {
	s := NewLocalStore(1024*1024, time.Hour)
	ctx := context.Background()
	if s.MaxEntrySize() != 1000 {
		t.Fatalf("MaxEntrySize = %d", s.MaxEntrySize())
	}

	key := "k"
	fits := strings.Repeat("x", s.MaxEntrySize()-len(key))
	if err := s.Put(ctx, key, fits); err != nil {
		t.Errorf("expected document at the limit to be stored, got %v", err)
	}
	err := s.Put(ctx, "big", fits+"xxxx")
	if !errors.Is(err, ErrDocumentTooLarge) {
		t.Errorf("expected ErrDocumentTooLarge, got %v", err)
	}
}

func newRedisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client, err := redis.New("redis://" + mr.Addr())
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisStore(t *testing.T) {
	mr, client := newRedisClient(t)
	s := NewRedisStore(client, time.Minute)
	ctx := context.Background()

	if err := s.Put(ctx, "venue-12", "<VAST/>"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if !mr.Exists("dooh:vast:venue-12") {
		t.Error("expected namespaced key")
	}
	if doc, ok, _ := s.Get(ctx, "venue-12"); !ok || doc != "<VAST/>" {
		t.Errorf("unexpected get %q %v", doc, ok)
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := s.Get(ctx, "venue-12"); ok {
		t.Error("expected expiry")
	}
}

type lookupRecorder struct {
	mu           sync.Mutex
	hits, misses int
}

func (r *lookupRecorder) RecordVastLookup(hit bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if hit {
		r.hits++
	} else {
		r.misses++
	}
}

func TestTieredStore(t *testing.T) {
	mr, client := newRedisClient(t)
	ctx := context.Background()
	rec := &lookupRecorder{}

	local := NewLocalStore(1024*1024, time.Hour)
	shared := NewRedisStore(client, time.Hour)
	s := NewTieredStore(rec, local, shared)

	if err := s.Put(ctx, "k", "doc"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, ok, _ := local.Get(ctx, "k"); !ok {
		t.Error("expected write-through to local")
	}
	if _, ok, _ := shared.Get(ctx, "k"); !ok {
		t.Error("expected write-through to redis")
	}

	// document written by another instance is backfilled locally
	shared.Put(ctx, "other", "remote")
	if doc, ok, _ := s.Get(ctx, "other"); !ok || doc != "remote" {
		t.Errorf("expected redis hit, got %q %v", doc, ok)
	}
	if _, ok, _ := local.Get(ctx, "other"); !ok {
		t.Error("expected backfill")
	}

	s.Get(ctx, "absent")
	if rec.hits != 1 || rec.misses != 1 {
		t.Errorf("unexpected lookups %d/%d", rec.hits, rec.misses)
	}

	// redis down: local tier still serves and accepts writes
	mr.Close()
	if err := s.Put(ctx, "k2", "doc2"); err != nil {
		t.Errorf("expected partial write to succeed, got %v", err)
	}
	if doc, ok, _ := s.Get(ctx, "k2"); !ok || doc != "doc2" {
		t.Errorf("expected local hit, got %q %v", doc, ok)
	}
}

func TestTieredStore_OversizedDocumentReachesRedis(t *testing.T) {
	_, client := newRedisClient(t)
	ctx := context.Background()

	local := NewLocalStore(1024*1024, time.Hour)
	s := NewTieredStore(nil, local, NewRedisStore(client, time.Hour))
	doc := "<VAST>" + strings.Repeat("x", 4*local.MaxEntrySize()) + "</VAST>"

	if err := s.Put(ctx, "big", doc); err != nil {
		t.Fatalf("expected redis tier to accept the document, got %v", err)
	}
	if got, ok, _ := s.Get(ctx, "big"); !ok || got != doc {
		t.Errorf("expected document from redis, got %d bytes %v", len(got), ok)
	}

	localOnly := NewTieredStore(nil, NewLocalStore(1024*1024, time.Hour))
	if err := localOnly.Put(ctx, "big", doc); !errors.Is(err, ErrDocumentTooLarge) {
		t.Errorf("expected ErrDocumentTooLarge without redis, got %v", err)
	}
}
