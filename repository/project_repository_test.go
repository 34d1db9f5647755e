package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/driver/sqlite"

	"mvgen/core/project"
	"mvgen/core/timeline"
	"mvgen/db"
	"mvgen/model"
)

func newTestRepo(t *testing.T) ProjectRepository {
	t.Helper()
	gdb, err := db.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return NewGormProjectRepository(gdb)
}

func sampleProject(t *testing.T) *project.Project {
	t.Helper()
	p := project.New("demo", project.Song{Locator: "/music/song.mp3", Title: "Song", Duration: 42})
	for _, d := range []float64{4, 6} {
		c, err := timeline.NewClip("/clips/c.mp4", d, "city")
		if err != nil {
			t.Fatal(err)
		}
		if err := p.Timeline.Append(c); err != nil {
			t.Fatal(err)
		}
	}
	return p
}

func TestProjectRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	p := sampleProject(t)

	if err := repo.Create(ctx, model.NewProjectRecord(p, "abc123")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	rec, err := repo.GetByID(ctx, p.ID.String())
	if err != nil || rec == nil {
		t.Fatalf("GetByID() = %v, %v", rec, err)
	}
	got, err := rec.ToProject()
	if err != nil {
		t.Fatalf("ToProject() error = %v", err)
	}

	if got.ID != p.ID || got.Song.Locator != p.Song.Locator || got.Status != project.StatusAnalyzing {
		t.Fatalf("restored project = %+v", got)
	}
	clips := got.Timeline.Snapshot()
	if len(clips) != 2 || clips[1].StartTime() != 4 || clips[0].Tags[0] != "city" {
		t.Fatalf("restored clips = %+v", clips)
	}
	if got.TotalDuration() != 10 {
		t.Fatalf("TotalDuration() = %v, want 10", got.TotalDuration())
	}
}

func TestProjectCreateDuplicate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	rec := model.NewProjectRecord(sampleProject(t), "")

	if err := repo.Create(ctx, rec); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := repo.Create(ctx, rec); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("second Create() error = %v, want ErrDuplicate", err)
	}
}

func TestProjectMissing(t *testing.T) {
	repo := newTestRepo(t)
	rec, err := repo.GetByID(context.Background(), "does-not-exist")
	if rec != nil || err != nil {
		t.Fatalf("GetByID(missing) = %v, %v; want nil, nil", rec, err)
	}
}

func TestProjectStatusListAndDelete(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		p := sampleProject(t)
		if err := repo.Create(ctx, model.NewProjectRecord(p, "hash")); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, p.ID.String())
		time.Sleep(2 * time.Millisecond)
	}

	if err := repo.UpdateStatus(ctx, ids[0], string(project.StatusReady)); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	rec, _ := repo.GetByID(ctx, ids[0])
	if rec.Status != string(project.StatusReady) {
		t.Fatalf("status = %s, want ready", rec.Status)
	}

	recs, total, err := repo.List(ctx, 2, 0)
	if err != nil || total != 3 || len(recs) != 2 {
		t.Fatalf("List() = %d recs, total %d, err %v", len(recs), total, err)
	}
	if recs[0].ID != ids[0] {
		t.Fatalf("most recently updated project should come first, got %s", recs[0].ID)
	}

	found, err := repo.FindBySongHash(ctx, "hash")
	if err != nil || found == nil {
		t.Fatalf("FindBySongHash() = %v, %v", found, err)
	}

	if err := repo.Delete(ctx, ids[1]); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if rec, _ := repo.GetByID(ctx, ids[1]); rec != nil {
		t.Fatal("deleted project still present")
	}
}

func TestExportRecords(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := &model.ExportRecord{ID: "job-1", ProjectID: "p-1", State: "composing", StartedAt: time.Now()}
	if err := repo.CreateExport(ctx, rec); err != nil {
		t.Fatalf("CreateExport() error = %v", err)
	}
	if err := repo.FinishExport(ctx, "job-1", "completed", "", "exports/p-1/job-1.mp4", []string{"clip-9"}); err != nil {
		t.Fatalf("FinishExport() error = %v", err)
	}

	recs, err := repo.ListExports(ctx, "p-1", 10)
	if err != nil || len(recs) != 1 {
		t.Fatalf("ListExports() = %v, %v", recs, err)
	}
	got := recs[0]
	if got.State != "completed" || got.ObjectKey != "exports/p-1/job-1.mp4" || got.FinishedAt == nil {
		t.Fatalf("export record = %+v", got)
	}
	if len(got.Skipped) != 1 || got.Skipped[0] != "clip-9" {
		t.Fatalf("skipped = %v", got.Skipped)
	}
}
