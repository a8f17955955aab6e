package cache

import (
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fleetupdate/agent/pkg/catalog"
	"github.com/fleetupdate/agent/pkg/fetcher"
	"github.com/fleetupdate/agent/pkg/usage"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "Cache")
	m, err := NewManager(dir, fetcher.New("https://repo.example.com"), "")
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}
	return m
}

func TestNewManagerCreatesSubdirectories(t *testing.T) {
	m := newTestManager(t)
	for _, dir := range []string{m.Dir, m.PrecacheDir, m.ClientResDir} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Errorf("expected %s to exist as a directory", dir)
		}
	}
}

func TestEnoughSpaceForRealFilesystem(t *testing.T) {
	m := newTestManager(t)
	pkg := &catalog.Pkginfo{Name: "SmallTool", InstallerItemSize: 10, InstalledSize: 10}
	if !m.EnoughSpaceFor(pkg, false) {
		t.Error("expected a tiny package to fit on a real test filesystem")
	}
}

func TestEnoughSpaceForTracksPlannedSize(t *testing.T) {
	m := newTestManager(t)
	pkg := &catalog.Pkginfo{Name: "Tool", InstallerItemSize: 10, InstalledSize: 10}
	if !m.EnoughSpaceFor(pkg, false) {
		t.Fatal("expected the first call to succeed")
	}
	if m.plannedInstalledSize == 0 {
		t.Error("expected plannedInstalledSize to accumulate after a successful check")
	}
}

func TestNewReferencedSet(t *testing.T) {
	set := NewReferencedSet(
		[]string{"pkgs/Firefox-102.0.pkg"},
		[]string{"OldTool-1.0.pkg"},
		nil,
		[]string{"subdir/Precached.pkg"},
	)
	for _, want := range []string{"Firefox-102.0.pkg", "OldTool-1.0.pkg", "Precached.pkg"} {
		if !set[want] {
			t.Errorf("expected %q in the referenced set, got %v", want, set)
		}
	}
}

func TestCleanUpDownloadCacheRemovesOrphans(t *testing.T) {
	m := newTestManager(t)
	keepPath := filepath.Join(m.Dir, "Keep.pkg")
	orphanPath := filepath.Join(m.Dir, "Orphan.pkg")
	if err := os.WriteFile(keepPath, []byte("keep"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(orphanPath, []byte("orphan"), 0o644); err != nil {
		t.Fatal(err)
	}

	m.CleanUpDownloadCache(ReferencedSet{"Keep.pkg": true})

	if _, err := os.Stat(keepPath); err != nil {
		t.Errorf("expected Keep.pkg to survive cleanup: %v", err)
	}
	if _, err := os.Stat(orphanPath); !os.IsNotExist(err) {
		t.Errorf("expected Orphan.pkg to be removed, stat err = %v", err)
	}
}

func TestUpdateAvailableLicenseSeats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Adobe Acrobat":3,"Matlab":0}`))
	}))
	defer srv.Close()

	m := newTestManager(t)
	m.LicenseInfoURL = srv.URL

	result, err := m.UpdateAvailableLicenseSeats([]string{"Adobe Acrobat", "Matlab"})
	if err != nil {
		t.Fatalf("UpdateAvailableLicenseSeats() error: %v", err)
	}
	if !result["Adobe Acrobat"] {
		t.Error("expected Adobe Acrobat to have seats available (3 > 0)")
	}
	if result["Matlab"] {
		t.Error("expected Matlab to have no seats available (0 is not > 0)")
	}
}

func TestUpdateAvailableLicenseSeatsNoURLIsNoop(t *testing.T) {
	m := newTestManager(t)
	result, err := m.UpdateAvailableLicenseSeats([]string{"Anything"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Errorf("expected a nil result when no LicenseInfoURL is configured, got %v", result)
	}
}

func TestFetchPackageURLOverridePrecedence(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Write([]byte("package bytes"))
	}))
	defer srv.Close()

	m := newTestManager(t)
	m.Fetcher = fetcher.New(srv.URL)

	pkg := &catalog.Pkginfo{
		Name:                  "Custom",
		InstallerItemLocation: "Custom-1.0.pkg",
		PackageCompleteURL:    srv.URL + "/override/Custom-1.0.pkg",
	}
	if _, err := m.FetchPackage(pkg); err != nil {
		t.Fatalf("FetchPackage() error: %v", err)
	}
	if gotURL != "/override/Custom-1.0.pkg" {
		t.Errorf("request path = %q, want PackageCompleteURL to take precedence", gotURL)
	}
}

func TestFetchPackageDefaultPkgsPath(t *testing.T) {
	var gotURL string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Write([]byte("package bytes"))
	}))
	defer srv.Close()

	m := newTestManager(t)
	m.Fetcher = fetcher.New(srv.URL)

	pkg := &catalog.Pkginfo{Name: "Plain", InstallerItemLocation: "Plain-1.0.pkg"}
	if _, err := m.FetchPackage(pkg); err != nil {
		t.Fatalf("FetchPackage() error: %v", err)
	}
	if gotURL != "/pkgs/Plain-1.0.pkg" {
		t.Errorf("request path = %q, want the default pkgs/ layout", gotURL)
	}
}

func TestShouldBeRemovedIfUnused(t *testing.T) {
	outDir := t.TempDir()
	path := "/Applications/NeverOpened.app/Contents/MacOS/NeverOpened"

	pkg := &catalog.Pkginfo{
		Installs:              []catalog.InstallItem{{Path: path}},
		UnusedSoftwareRemoval: &catalog.UnusedSoftwareRemoval{RemovalDays: 30},
	}

	if ShouldBeRemovedIfUnused(pkg, outDir) {
		t.Error("expected no removal when there's no usage evidence at all")
	}

	session := usage.Session{Path: path, Ended: time.Now().AddDate(0, 0, -60)}
	writeUsageSession(t, outDir, session)

	if !ShouldBeRemovedIfUnused(pkg, outDir) {
		t.Error("expected removal once the last observed run is older than removal_days")
	}
}

func writeUsageSession(t *testing.T, outDir string, s usage.Session) {
	t.Helper()
	fname := filepath.Join(outDir, "app_usage_"+s.Ended.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(fname, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("opening usage fixture file: %v", err)
	}
	defer f.Close()
	data := []byte(`{"exe":"NeverOpened","path":"` + s.Path + `","started":"2024-01-01T00:00:00Z","ended":"` + s.Ended.Format(time.RFC3339) + `","duration_seconds":1}` + "\n")
	if _, err := f.Write(data); err != nil {
		t.Fatalf("writing usage fixture: %v", err)
	}
}

func writeTestPNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("creating fixture png: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encoding fixture png: %v", err)
	}
}

func TestNormalizeIconLeavesSmallIconsUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "small.png")
	writeTestPNG(t, path, 64, 64)

	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading fixture: %v", err)
	}

	if err := normalizeIcon(path); err != nil {
		t.Fatalf("normalizeIcon() error: %v", err)
	}

	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading normalized fixture: %v", err)
	}
	if string(before) != string(after) {
		t.Error("expected an icon within bounds to be left byte-for-byte untouched")
	}
}

func TestFetchIconsConcurrentlyDownloadsAllRequestedIcons(t *testing.T) {
	var mu sync.Mutex
	requested := map[string]int{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requested[filepath.Base(r.URL.Path)]++
		mu.Unlock()
		writeTestPNGToWriter(w, 16, 16)
	}))
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "Cache")
	m, err := NewManager(dir, fetcher.New(srv.URL), "")
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}

	requests := []IconRequest{
		{Name: "Firefox"},
		{Name: "Chrome", IconName: "chrome_icon.png"},
	}
	m.FetchIconsConcurrently(requests, nil)

	mu.Lock()
	defer mu.Unlock()
	if requested["Firefox.png"] != 1 {
		t.Errorf("requested[Firefox.png] = %d, want 1", requested["Firefox.png"])
	}
	if requested["chrome_icon.png"] != 1 {
		t.Errorf("requested[chrome_icon.png] = %d, want 1", requested["chrome_icon.png"])
	}
}

func TestFetchIconsConcurrentlySkipsIconsAbsentFromHashManifest(t *testing.T) {
	var requestCount int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestCount++
		writeTestPNGToWriter(w, 16, 16)
	}))
	defer srv.Close()

	dir := filepath.Join(t.TempDir(), "Cache")
	m, err := NewManager(dir, fetcher.New(srv.URL), "")
	if err != nil {
		t.Fatalf("NewManager() error: %v", err)
	}

	available := map[string]bool{"Firefox.png": true}
	m.FetchIconsConcurrently([]IconRequest{{Name: "Firefox"}, {Name: "NotListed"}}, available)

	if requestCount != 1 {
		t.Errorf("requestCount = %d, want 1 (NotListed.png should be skipped)", requestCount)
	}
}

func writeTestPNGToWriter(w http.ResponseWriter, width, height int) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	w.Header().Set("Content-Type", "image/png")
	png.Encode(w, img)
}

func TestNormalizeIconScalesDownOversizedIcons(t *testing.T) {
	path := filepath.Join(t.TempDir(), "huge.png")
	writeTestPNG(t, path, 1024, 768)

	if err := normalizeIcon(path); err != nil {
		t.Fatalf("normalizeIcon() error: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("reopening normalized fixture: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decoding normalized fixture: %v", err)
	}
	b := img.Bounds()
	if b.Dx() > maxIconDimension || b.Dy() > maxIconDimension {
		t.Errorf("bounds = %dx%d, want both axes <= %d", b.Dx(), b.Dy(), maxIconDimension)
	}
	if b.Dx() != maxIconDimension && b.Dy() != maxIconDimension {
		t.Errorf("bounds = %dx%d, want at least one axis to hit the %d cap", b.Dx(), b.Dy(), maxIconDimension)
	}
}
