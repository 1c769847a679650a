package storage

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

var playlogColumns = []string{
	"reach_device_ifa", "hivestack_display_uuid", "hivestack_enabled",
	"generator_id", "vistar_enabled", "vistar_language",
	"rott_ad_width", "rott_ad_height",
}

func TestPlaylogStore_ListDevices(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Unexpected error stubbing DB: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows(playlogColumns).
		AddRow("dev-1", "display-1", "Y", "gen:abc: 123 ", "Y", "EN", 1920, 1080).
		AddRow("dev-2", nil, "", nil, "N", "", 0, 0)
	mock.ExpectQuery("FROM playlogs").WillReturnRows(rows)

	playlogs, err := NewPlaylogStore(db).ListDevices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(playlogs) != 2 {
		t.Fatalf("expected 2 playlogs, got %d", len(playlogs))
	}

	p := playlogs[0]
	if p.ReachDeviceIFA != "dev-1" || p.HivestackDisplayUUID != "display-1" || p.RottAdWidth != 1920 {
		t.Errorf("unexpected row: %+v", p)
	}
	if p.PanelID() != "123" {
		t.Errorf("expected panel 123, got %q", p.PanelID())
	}
	if !p.HivestackEligible() || !p.VistarEligible() {
		t.Error("expected first device eligible for both partners")
	}

	if playlogs[1].HivestackDisplayUUID != "" || playlogs[1].GeneratorID != "" {
		t.Errorf("expected NULLs to map to empty strings: %+v", playlogs[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPlaylogStore_QueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Unexpected error stubbing DB: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM playlogs").WillReturnError(errors.New("connection reset"))

	if _, err := NewPlaylogStore(db).ListDevices(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestPlaylog_Eligibility(t *testing.T) {
	tests := []struct {
		name      string
		p         Playlog
		hivestack bool
		vistar    bool
		panel     string
	}{
		{"hivestack disabled", Playlog{HivestackDisplayUUID: "d", HivestackEnabled: "N"}, false, false, ""},
		{"hivestack lowercase flag", Playlog{HivestackDisplayUUID: "d", HivestackEnabled: "y"}, false, false, ""},
		{"no colon", Playlog{GeneratorID: " 77 ", VistarEnabled: "Y"}, false, true, "77"},
		{"blank panel", Playlog{GeneratorID: "gen:   ", VistarEnabled: "Y"}, false, false, ""},
		{"vistar disabled", Playlog{GeneratorID: "gen:5", VistarEnabled: "N"}, false, false, "5"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.HivestackEligible(); got != tt.hivestack {
				t.Errorf("HivestackEligible = %v, want %v", got, tt.hivestack)
			}
			if got := tt.p.VistarEligible(); got != tt.vistar {
				t.Errorf("VistarEligible = %v, want %v", got, tt.vistar)
			}
			if got := tt.p.PanelID(); got != tt.panel {
				t.Errorf("PanelID = %q, want %q", got, tt.panel)
			}
		})
	}
}

func TestCreativeStore_Exists(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Unexpected error stubbing DB: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("http://cdn/a.jpg").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := NewCreativeStore(db).Exists(context.Background(), "http://cdn/a.jpg")
	if err != nil || !ok {
		t.Errorf("expected exists, got %v %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreativeStore_Save(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Unexpected error stubbing DB: %v", err)
	}
	defer db.Close()

	store := NewCreativeStore(db)
	id := "9001"

	mock.ExpectExec("INSERT INTO creatives").
		WithArgs("9001", "http://cdn/a.jpg").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO creatives").
		WithArgs(nil, "http://cdn/b.mp4").
		WillReturnResult(sqlmock.NewResult(2, 1))

	if err := store.Save(context.Background(), &id, "http://cdn/a.jpg"); err != nil {
		t.Fatalf("Save with id failed: %v", err)
	}
	if err := store.Save(context.Background(), nil, "http://cdn/b.mp4"); err != nil {
		t.Fatalf("Save without id failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestCreativeStore_ListURLs(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Unexpected error stubbing DB: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("FROM creatives").
		WillReturnRows(sqlmock.NewRows([]string{"hivestack_url"}).AddRow("u1").AddRow("u2"))

	urls, err := NewCreativeStore(db).ListURLs(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 2 || urls[0] != "u1" || urls[1] != "u2" {
		t.Errorf("unexpected urls %v", urls)
	}
}
