package studio

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"

	"mvgen/core/analysis"
	"mvgen/core/compose"
	"mvgen/core/pcm"
	"mvgen/core/progress"
	"mvgen/core/project"
	"mvgen/core/timeline"
	"mvgen/db"
	"mvgen/repository"
)

type fakeDecoder struct {
	calls atomic.Int32
	fail  error
}

func (d *fakeDecoder) Decode(ctx context.Context, locator string) (*pcm.Buffer, error) {
	d.calls.Add(1)
	if d.fail != nil {
		return nil, d.fail
	}
	const rate = 1000
	samples := make([]float32, 25*rate)
	for i := 0; i < len(samples); i += 500 {
		samples[i] = 0.8
	}
	return &pcm.Buffer{Samples: samples, SampleRate: rate, Duration: 25}, nil
}

type fakeMedia struct {
	block   bool
	started chan struct{}
	once    sync.Once
}

func (m *fakeMedia) LoadVisual(ctx context.Context, locator string) (*compose.Visual, error) {
	return &compose.Visual{Locator: locator, Duration: 10, HasVideo: true}, nil
}

func (m *fakeMedia) LoadAudio(ctx context.Context, locator string) (*compose.Audio, error) {
	return &compose.Audio{Locator: locator, Duration: 25}, nil
}

func (m *fakeMedia) Render(ctx context.Context, plan *compose.Plan, outputPath string, report func(float64)) error {
	if err := os.WriteFile(outputPath, []byte("mp4"), 0o644); err != nil {
		return err
	}
	report(0.5)
	if m.started != nil {
		m.once.Do(func() { close(m.started) })
	}
	if m.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *fakePublisher) Publish(ctx context.Context, localPath, objectKey string) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", err
	}
	p.mu.Lock()
	p.keys = append(p.keys, objectKey)
	p.mu.Unlock()
	return objectKey, nil
}

type fixture struct {
	studio    *Studio
	decoder   *fakeDecoder
	media     *fakeMedia
	hub       *progress.Hub
	publisher *fakePublisher
	repo      repository.ProjectRepository
	composer  *compose.Engine
	songPath  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	gdb, err := db.Open(sqlite.Open(filepath.Join(dir, "studio.db")))
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

	songPath := filepath.Join(dir, "song.wav")
	if err := os.WriteFile(songPath, []byte("pretend riff payload"), 0o644); err != nil {
		t.Fatal(err)
	}

	hub := progress.NewHub()
	go hub.Run()
	t.Cleanup(hub.Stop)

	f := &fixture{
		decoder:   &fakeDecoder{},
		media:     &fakeMedia{},
		hub:       hub,
		publisher: &fakePublisher{},
		songPath:  songPath,
	}
	f.composer = compose.NewEngine(f.media, f.media,
		compose.WithOutputDir(filepath.Join(dir, "exports")),
		compose.WithPollInterval(5*time.Millisecond))
	f.repo = repository.NewGormProjectRepository(gdb)
	f.studio = f.newStudio(f.composer)
	return f
}

func (f *fixture) newStudio(composer Composer) *Studio {
	return New(f.decoder, analysis.NewEngine(2), f.repo, composer,
		WithHub(f.hub),
		WithPublisher(f.publisher, func(projectID, localPath string) string {
			return "exports/" + projectID + "/" + filepath.Base(localPath)
		}))
}

func (f *fixture) importSong(t *testing.T) *project.Project {
	t.Helper()
	p, err := f.studio.ImportSong(context.Background(), f.songPath, "Demo")
	if err != nil {
		t.Fatalf("ImportSong() error = %v", err)
	}
	return p
}

func (f *fixture) addClips(t *testing.T, id string, durations ...float64) {
	t.Helper()
	for _, d := range durations {
		c, err := timeline.NewClip("/clips/shot.mp4", d)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.studio.AddClip(context.Background(), id, c); err != nil {
			t.Fatalf("AddClip() error = %v", err)
		}
	}
}

func waitExport(t *testing.T, s *Studio, id string) *ExportInfo {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	info, err := s.WaitExport(ctx, id)
	if err != nil {
		t.Fatalf("WaitExport() error = %v", err)
	}
	return info
}

func TestImportSongAnalysesAndPersists(t *testing.T) {
	f := newFixture(t)
	p := f.importSong(t)

	if p.Status != project.StatusReady {
		t.Fatalf("status = %s, want ready", p.Status)
	}
	if p.Song.Duration != 25 {
		t.Fatalf("duration = %v, want 25", p.Song.Duration)
	}
	a := p.Song.Analysis
	if a == nil || len(a.Segments()) != 3 {
		t.Fatalf("analysis = %+v, want 3 segments", a)
	}
	if len(p.Song.Themes) == 0 || p.Song.Themes[0] != string(a.Mood()) {
		t.Fatalf("themes = %v, want mood first", p.Song.Themes)
	}

	got, err := f.studio.Get(context.Background(), p.ID.String())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != project.StatusReady || got.Song.Analysis.Tempo() != a.Tempo() {
		t.Fatalf("persisted project = %+v", got)
	}
}

func TestImportSongReusesAnalysisForSameContent(t *testing.T) {
	f := newFixture(t)
	first := f.importSong(t)
	second := f.importSong(t)

	if first.ID == second.ID {
		t.Fatal("each import should create its own project")
	}
	if n := f.decoder.calls.Load(); n != 1 {
		t.Fatalf("decoder called %d times, want 1", n)
	}
	if second.Song.Analysis.Mood() != first.Song.Analysis.Mood() {
		t.Fatal("cached analysis differs")
	}
}

func TestImportSongFailures(t *testing.T) {
	f := newFixture(t)

	if _, err := f.studio.ImportSong(context.Background(), filepath.Join(t.TempDir(), "missing.wav"), ""); !errors.Is(err, analysis.ErrLoadFailed) {
		t.Fatalf("missing file error = %v", err)
	}

	f.decoder.fail = analysis.ErrInvalidFormat
	if _, err := f.studio.ImportSong(context.Background(), f.songPath, "Broken"); !errors.Is(err, analysis.ErrInvalidFormat) {
		t.Fatalf("decode error = %v", err)
	}

	projects, total, err := f.studio.List(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if total != 1 || projects[0].Status != project.StatusFailed {
		t.Fatalf("projects = %+v, want one failed project", projects)
	}
}

func TestClipEditing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.importSong(t).ID.String()
	f.addClips(t, id, 4, 6, 2)

	p, err := f.studio.MoveClip(ctx, id, 2, 0)
	if err != nil {
		t.Fatalf("MoveClip() error = %v", err)
	}
	clips := p.Timeline.Snapshot()
	if clips[0].Duration != 2 || clips[1].StartTime() != 2 {
		t.Fatalf("after move: %v", clips)
	}

	replacement := clips[1]
	replacement.TrimStart = 1
	if _, err := f.studio.UpdateClip(ctx, id, 1, replacement); err != nil {
		t.Fatalf("UpdateClip() error = %v", err)
	}
	bad := replacement
	bad.TrimEnd = 10
	if _, err := f.studio.UpdateClip(ctx, id, 1, bad); !errors.Is(err, timeline.ErrInvalidTrim) {
		t.Fatalf("invalid trim error = %v", err)
	}

	p, err = f.studio.RemoveClip(ctx, id, 2)
	if err != nil {
		t.Fatalf("RemoveClip() error = %v", err)
	}
	if p.TotalDuration() != 5 {
		t.Fatalf("total = %v, want 5", p.TotalDuration())
	}

	if _, err := f.studio.RemoveClip(ctx, id, 9); !errors.Is(err, ErrClipNotFound) {
		t.Fatalf("out of range error = %v", err)
	}
	if _, err := f.studio.MoveClip(ctx, id, -1, 0); !errors.Is(err, ErrClipNotFound) {
		t.Fatalf("out of range move error = %v", err)
	}

	stored, err := f.studio.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Timeline.Len() != 2 || stored.TotalDuration() != 5 {
		t.Fatalf("stored timeline len=%d total=%v", stored.Timeline.Len(), stored.TotalDuration())
	}
}

func TestUnknownProject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, _ := timeline.NewClip("/clips/a.mp4", 3)

	if _, err := f.studio.Get(ctx, "nope"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("Get() error = %v", err)
	}
	if _, err := f.studio.AddClip(ctx, "nope", c); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("AddClip() error = %v", err)
	}
	if _, err := f.studio.StartExport(ctx, "nope"); !errors.Is(err, ErrProjectNotFound) {
		t.Fatalf("StartExport() error = %v", err)
	}
}

func TestExportCompletesAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.importSong(t).ID.String()
	f.addClips(t, id, 4, 6)

	sub := f.hub.Subscribe(id, 256)
	defer sub.Close()

	info, err := f.studio.StartExport(ctx, id)
	if err != nil {
		t.Fatalf("StartExport() error = %v", err)
	}
	if info.State != compose.StateComposing.String() {
		t.Fatalf("initial state = %s", info.State)
	}

	final := waitExport(t, f.studio, id)
	if final.State != compose.StateCompleted.String() || final.Progress != 1 {
		t.Fatalf("final = %+v", final)
	}
	wantKey := "exports/" + id + "/" + filepath.Base(final.OutputPath)
	if final.ObjectKey != wantKey {
		t.Fatalf("object key = %q, want %q", final.ObjectKey, wantKey)
	}

	p, err := f.studio.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != project.StatusCompleted || p.ExportLocator != wantKey {
		t.Fatalf("project status=%s locator=%q", p.Status, p.ExportLocator)
	}

	deadline := time.After(2 * time.Second)
	var last progress.Event
	for last.Status != string(project.StatusCompleted) {
		select {
		case msg := <-sub.Send:
			var e progress.Event
			if err := json.Unmarshal(msg, &e); err != nil {
				t.Fatalf("bad event: %v", err)
			}
			last = e
		case <-deadline:
			t.Fatalf("no completion event, last = %+v", last)
		}
	}
	if last.Type != progress.EventState || last.Output != wantKey {
		t.Fatalf("completion event = %+v", last)
	}
}

// eagerComposer 在 Start 返回前就上报进度
type eagerComposer struct {
	*compose.Engine
}

func (c eagerComposer) Start(ctx context.Context, clips []timeline.Clip, audioLocator string, progress func(float64)) (*compose.Job, error) {
	job, err := c.Engine.Start(ctx, clips, audioLocator, progress)
	if err != nil {
		return nil, err
	}
	fired := make(chan struct{})
	go func() {
		close(fired)
		progress(0.01)
	}()
	<-fired
	time.Sleep(20 * time.Millisecond)
	return job, nil
}

func TestExportProgressCarriesJobIDFromFirstTick(t *testing.T) {
	f := newFixture(t)
	f.studio = f.newStudio(eagerComposer{f.composer})
	ctx := context.Background()
	id := f.importSong(t).ID.String()
	f.addClips(t, id, 4)

	sub := f.hub.Subscribe(id, 256)
	defer sub.Close()

	info, err := f.studio.StartExport(ctx, id)
	if err != nil {
		t.Fatalf("StartExport() error = %v", err)
	}

	deadline := time.After(2 * time.Second)
	var sawEarly, completed bool
	for !sawEarly || !completed {
		select {
		case msg := <-sub.Send:
			var e progress.Event
			if err := json.Unmarshal(msg, &e); err != nil {
				t.Fatalf("bad event: %v", err)
			}
			if e.JobID != info.JobID {
				t.Fatalf("event %+v has job id %q, want %q", e, e.JobID, info.JobID)
			}
			if e.Type == progress.EventProgress && e.Progress == 0.01 {
				sawEarly = true
			}
			if e.Status == string(project.StatusCompleted) {
				completed = true
			}
		case <-deadline:
			t.Fatalf("completed=%v early tick seen=%v", completed, sawEarly)
		}
	}
}

func TestExportSingleFlightAndCancel(t *testing.T) {
	f := newFixture(t)
	f.media.block = true
	f.media.started = make(chan struct{})
	ctx := context.Background()
	id := f.importSong(t).ID.String()
	f.addClips(t, id, 4)

	if _, err := f.studio.StartExport(ctx, id); err != nil {
		t.Fatalf("StartExport() error = %v", err)
	}
	<-f.media.started

	if _, err := f.studio.StartExport(ctx, id); !errors.Is(err, ErrExportInProgress) {
		t.Fatalf("second StartExport() error = %v", err)
	}
	c, _ := timeline.NewClip("/clips/b.mp4", 2)
	if _, err := f.studio.AddClip(ctx, id, c); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("edit during export error = %v", err)
	}
	if err := f.studio.Delete(ctx, id); !errors.Is(err, ErrExportInProgress) {
		t.Fatalf("delete during export error = %v", err)
	}

	if err := f.studio.CancelExport(id); err != nil {
		t.Fatalf("CancelExport() error = %v", err)
	}
	final := waitExport(t, f.studio, id)
	if final.State != compose.StateCancelled.String() {
		t.Fatalf("final state = %s", final.State)
	}
	if _, err := os.Stat(final.OutputPath); !os.IsNotExist(err) {
		t.Fatalf("output should not exist after cancel: %v", err)
	}

	p, err := f.studio.Get(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != project.StatusReady {
		t.Fatalf("status after cancel = %s, want ready", p.Status)
	}
	if err := f.studio.CancelExport(id); !errors.Is(err, ErrNoActiveExport) {
		t.Fatalf("cancel without export error = %v", err)
	}
}

func TestExportWithoutClips(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.importSong(t).ID.String()

	if _, err := f.studio.StartExport(ctx, id); !errors.Is(err, compose.ErrNoClips) {
		t.Fatalf("StartExport() error = %v", err)
	}
	if _, err := f.studio.ExportStatus(ctx, id); !errors.Is(err, ErrNoExport) {
		t.Fatalf("ExportStatus() error = %v", err)
	}
	p, _ := f.studio.Get(ctx, id)
	if p.Status != project.StatusReady {
		t.Fatalf("status = %s, want ready", p.Status)
	}
	// 仍可编辑
	f.addClips(t, id, 3)
}

func TestThemes(t *testing.T) {
	for _, m := range analysis.AllMoods {
		themes := Themes(m)
		if themes[0] != string(m) {
			t.Errorf("Themes(%s)[0] = %q", m, themes[0])
		}
		if len(themes) != 5 {
			t.Errorf("Themes(%s) = %v, want mood plus four concepts", m, themes)
		}
	}
}
