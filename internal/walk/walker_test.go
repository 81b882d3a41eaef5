package walk

import (
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"fswalk/internal/ignore"
	"fswalk/internal/metrics"
)

// writeTree creates files under root; names ending in "/" become directories.
func writeTree(t *testing.T, root string, names ...string) {
	t.Helper()
	for _, name := range names {
		path := filepath.Join(root, filepath.FromSlash(name))
		if strings.HasSuffix(name, "/") {
			if err := os.MkdirAll(path, 0o755); err != nil {
				t.Fatalf("mkdir %s: %v", name, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir parent of %s: %v", name, err)
		}
		if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
}

func fixtureRoot(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeTree(t, root, "a/file.txt", "a/sub/directory/", "node_modules/ignored.txt")
	return root
}

type countingSource struct {
	OSSource
	calls atomic.Int32
}

func (s *countingSource) Entries(root string, skip SkipFunc) iter.Seq2[RawEntry, error] {
	s.calls.Add(1)
	return s.OSSource.Entries(root, skip)
}

func newWalker(t *testing.T, options Options) *Walker {
	t.Helper()
	w, err := New(options)
	if err != nil {
		t.Fatalf("new walker: %v", err)
	}
	t.Cleanup(w.StopWatching)
	return w
}

func collect(paths *[]string) FoundFunc {
	return func(_ context.Context, entry Entry) error {
		*paths = append(*paths, entry.Path)
		return nil
	}
}

func TestWalkerMatchesEverythingExceptIgnored(t *testing.T) {
	w := newWalker(t, Options{Root: fixtureRoot(t)})

	var paths []string
	if err := w.OnMatch(nil, Found(collect(&paths))); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := w.Ready(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}

	sort.Strings(paths)
	want := []string{"a", "a/file.txt", "a/sub", "a/sub/directory"}
	if strings.Join(paths, ",") != strings.Join(want, ",") {
		t.Fatalf("expected %v, got %v", want, paths)
	}
	for _, path := range paths {
		if path == "" || strings.HasPrefix(path, "/") || strings.Contains(path, "node_modules") {
			t.Fatalf("unexpected entry path %q", path)
		}
	}
	if w.State() != StateDone {
		t.Fatalf("expected done state, got %s", w.State())
	}
}

func TestWalkerFilesAndDirectories(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a/file", "a/other-file", "a/sub/directory/", "b/notes.md")
	w := newWalker(t, Options{Root: root})

	var files, dirs, globbed []string
	if err := w.OnFile(Regexp(regexp.MustCompile(`file`)), Found(collect(&files))); err != nil {
		t.Fatalf("register files: %v", err)
	}
	if err := w.OnDirectory(Any(), Found(collect(&dirs))); err != nil {
		t.Fatalf("register dirs: %v", err)
	}
	if err := w.OnFile(Glob("**/*.md"), Found(collect(&globbed))); err != nil {
		t.Fatalf("register glob: %v", err)
	}
	if err := w.Ready(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}

	sort.Strings(files)
	sort.Strings(dirs)
	if strings.Join(files, ",") != "a/file,a/other-file" {
		t.Fatalf("unexpected files %v", files)
	}
	if strings.Join(dirs, ",") != "a,a/sub,a/sub/directory,b" {
		t.Fatalf("unexpected dirs %v", dirs)
	}
	if strings.Join(globbed, ",") != "b/notes.md" {
		t.Fatalf("unexpected glob matches %v", globbed)
	}
}

func TestWalkerCallCountsAndOrder(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "one.txt", "two.txt", "three.md", "dir/")
	w := newWalker(t, Options{Root: root})

	var mu sync.Mutex
	counter := 0
	type call struct {
		registration int
		path         string
		order        int
	}
	var calls []call
	record := func(index int) FoundFunc {
		return func(_ context.Context, entry Entry) error {
			mu.Lock()
			defer mu.Unlock()
			counter++
			calls = append(calls, call{registration: index, path: entry.Path, order: counter})
			return nil
		}
	}

	if err := w.OnFile(Glob("*.txt"), Found(record(0))); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := w.OnMatch(nil, Found(record(1))); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := w.OnFile(Any(), Found(record(2))); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := w.Ready(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}

	perRegistration := map[int]int{}
	lastOrder := map[string]int{}
	lastRegistration := map[string]int{}
	for _, c := range calls {
		perRegistration[c.registration]++
		if previous, ok := lastRegistration[c.path]; ok && previous >= c.registration {
			t.Fatalf("registration %d fired after %d for %s", c.registration, previous, c.path)
		}
		if c.order <= lastOrder[c.path] {
			t.Fatalf("non-monotonic order for %s", c.path)
		}
		lastRegistration[c.path] = c.registration
		lastOrder[c.path] = c.order
	}
	if perRegistration[0] != 2 || perRegistration[1] != 4 || perRegistration[2] != 3 {
		t.Fatalf("unexpected call counts %v", perRegistration)
	}
}

func TestWalkerDispatchIsSerialized(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "a.txt", "b.txt", "c/d.txt")
	w := newWalker(t, Options{Root: root})

	var active atomic.Int32
	overlap := false
	slow := func(_ context.Context, _ Entry) error {
		if active.Add(1) > 1 {
			overlap = true
		}
		time.Sleep(2 * time.Millisecond)
		active.Add(-1)
		return nil
	}
	for i := 0; i < 3; i++ {
		if err := w.OnMatch(nil, Found(slow)); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if err := w.Ready(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if overlap {
		t.Fatalf("callbacks overlapped")
	}
}

func TestWalkerReadyRunsOnce(t *testing.T) {
	source := &countingSource{}
	readyCalls := 0
	w := newWalker(t, Options{
		Root:   fixtureRoot(t),
		Source: source,
		OnReady: func(context.Context) error {
			readyCalls++
			return nil
		},
	})

	var order []string
	matches := 0
	if err := w.OnMatch(nil, Found(func(context.Context, Entry) error {
		matches++
		return nil
	})); err != nil {
		t.Fatalf("register: %v", err)
	}
	w.OnReady(func(context.Context) error {
		order = append(order, "second")
		return nil
	})

	for i := 0; i < 2; i++ {
		if err := w.Ready(context.Background()); err != nil {
			t.Fatalf("ready %d: %v", i, err)
		}
	}

	if got := source.calls.Load(); got != 1 {
		t.Fatalf("expected one traversal, got %d", got)
	}
	if readyCalls != 1 || len(order) != 1 {
		t.Fatalf("expected ready callbacks once, got %d and %v", readyCalls, order)
	}
	if matches != 4 {
		t.Fatalf("expected 4 matches, got %d", matches)
	}
	select {
	case <-w.Done():
	default:
		t.Fatalf("expected done channel to be closed")
	}
}

func TestWalkerConcurrentReadyWalksOnce(t *testing.T) {
	source := &countingSource{}
	w := newWalker(t, Options{Root: fixtureRoot(t), Source: source})

	release := make(chan struct{})
	if err := w.OnMatch(nil, Found(func(context.Context, Entry) error {
		<-release
		return nil
	})); err != nil {
		t.Fatalf("register: %v", err)
	}

	first := make(chan error, 1)
	go func() {
		first <- w.Ready(context.Background())
	}()
	for w.State() == StateNotStarted {
		time.Sleep(time.Millisecond)
	}
	if err := w.Ready(context.Background()); err != nil {
		t.Fatalf("second ready: %v", err)
	}
	close(release)
	if err := <-first; err != nil {
		t.Fatalf("first ready: %v", err)
	}
	<-w.Done()
	if got := source.calls.Load(); got != 1 {
		t.Fatalf("expected one traversal, got %d", got)
	}
}

func TestWalkerLateRegistrationNeverFires(t *testing.T) {
	w := newWalker(t, Options{Root: fixtureRoot(t)})
	if err := w.Ready(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}
	fired := false
	if err := w.OnMatch(nil, Found(func(context.Context, Entry) error {
		fired = true
		return nil
	})); err != nil {
		t.Fatalf("late register: %v", err)
	}
	if err := w.Ready(context.Background()); err != nil {
		t.Fatalf("second ready: %v", err)
	}
	if fired {
		t.Fatalf("late registration fired")
	}
}

func TestWalkerCallbackErrorAbortsWalk(t *testing.T) {
	source := &countingSource{}
	root := t.TempDir()
	writeTree(t, root, "a.txt", "b.txt", "c.txt")
	w := newWalker(t, Options{Root: root, Source: source})

	boom := errors.New("boom")
	firstCalls := 0
	secondCalls := 0
	if err := w.OnMatch(nil, Found(func(context.Context, Entry) error {
		firstCalls++
		return boom
	})); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := w.OnMatch(nil, Found(func(context.Context, Entry) error {
		secondCalls++
		return nil
	})); err != nil {
		t.Fatalf("register: %v", err)
	}
	readyFired := false
	w.OnReady(func(context.Context) error {
		readyFired = true
		return nil
	})

	err := w.Ready(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if firstCalls != 1 || secondCalls != 0 {
		t.Fatalf("expected abort after first callback, got %d/%d", firstCalls, secondCalls)
	}
	if readyFired {
		t.Fatalf("ready callback fired after failure")
	}
	if w.State() != StateFailed || !errors.Is(w.Err(), boom) {
		t.Fatalf("expected failed state, got %s %v", w.State(), w.Err())
	}
	if err := w.Ready(context.Background()); err != nil {
		t.Fatalf("second ready: %v", err)
	}
	if got := source.calls.Load(); got != 1 {
		t.Fatalf("expected no retry, got %d traversals", got)
	}
}

func TestWalkerPredicateErrorPropagates(t *testing.T) {
	w := newWalker(t, Options{Root: fixtureRoot(t)})
	denied := errors.New("denied")
	if err := w.OnFile(Func(func(context.Context, Entry) (bool, error) {
		return false, denied
	}), Found(func(context.Context, Entry) error { return nil })); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := w.Ready(context.Background()); !errors.Is(err, denied) {
		t.Fatalf("expected denied, got %v", err)
	}
}

func TestWalkerReadyCallbackError(t *testing.T) {
	w := newWalker(t, Options{Root: fixtureRoot(t)})
	late := errors.New("late")
	w.OnReady(func(context.Context) error { return late })
	if err := w.Ready(context.Background()); !errors.Is(err, late) {
		t.Fatalf("expected ready callback error, got %v", err)
	}
}

func TestWalkerHonorsCancelledContext(t *testing.T) {
	w := newWalker(t, Options{Root: fixtureRoot(t)})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Ready(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
}

func TestWalkerCustomIgnorePatterns(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, ".DS_Store", "src/.DS_Store", "src/main.go", "build/out.bin")
	patterns, err := ignore.Compile([]string{`DS_Store`, `/build$`})
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	w := newWalker(t, Options{Root: root, IgnorePatterns: patterns})

	var paths []string
	if err := w.OnMatch(nil, Found(collect(&paths))); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := w.Ready(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}
	sort.Strings(paths)
	if strings.Join(paths, ",") != "src,src/main.go" {
		t.Fatalf("unexpected paths %v", paths)
	}
}

func TestWalkerFileRootUsesParentDirectory(t *testing.T) {
	root := fixtureRoot(t)
	w := newWalker(t, Options{Root: filepath.Join(root, "a", "file.txt")})
	if w.Root() != filepath.Join(root, "a") {
		t.Fatalf("expected root %q, got %q", filepath.Join(root, "a"), w.Root())
	}
	var paths []string
	if err := w.OnFile(Any(), Found(collect(&paths))); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := w.Ready(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if strings.Join(paths, ",") != "file.txt" {
		t.Fatalf("unexpected paths %v", paths)
	}
}

func TestWalkerRulesRegisterFirst(t *testing.T) {
	var order []string
	note := func(label string) FoundFunc {
		return func(_ context.Context, entry Entry) error {
			if entry.Path == "a/file.txt" {
				order = append(order, label)
			}
			return nil
		}
	}
	w := newWalker(t, Options{
		Root: fixtureRoot(t),
		Rules: []Rule{
			{Name: "texts", Kind: RuleFile, Matcher: Glob("**/*.txt"), Handler: Found(note("rule"))},
		},
	})
	if err := w.OnMatch(nil, Found(note("call"))); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := w.Ready(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if strings.Join(order, ",") != "rule,call" {
		t.Fatalf("unexpected order %v", order)
	}
}

func TestWalkerRejectsBadConfiguration(t *testing.T) {
	source := &countingSource{}
	w := newWalker(t, Options{Root: fixtureRoot(t), Source: source})
	noop := Found(func(context.Context, Entry) error { return nil })

	if err := w.OnFile(Glob("[a-"), noop); !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("expected invalid pattern, got %v", err)
	}
	if err := w.OnDirectory(Regexp(nil), noop); !errors.Is(err, ErrUnsupportedMatcher) {
		t.Fatalf("expected unsupported matcher, got %v", err)
	}
	if err := w.OnMatch(nil, Handler{}); !errors.Is(err, ErrInvalidHandler) || !IsConfigError(err) {
		t.Fatalf("expected invalid handler config error, got %v", err)
	}
	if err := w.Register(Rule{Kind: "symlink", Handler: noop}); !IsConfigError(err) {
		t.Fatalf("expected config error for bad rule kind, got %v", err)
	}
	if _, err := MatcherFrom(42); !errors.Is(err, ErrUnsupportedMatcher) {
		t.Fatalf("expected unsupported matcher for number, got %v", err)
	}
	if got := source.calls.Load(); got != 0 {
		t.Fatalf("expected no traversal, got %d", got)
	}
	if _, err := New(Options{Root: filepath.Join(t.TempDir(), "missing")}); !IsConfigError(err) {
		t.Fatalf("expected config error for missing root, got %v", err)
	}
	if _, err := New(Options{Root: fixtureRoot(t), Rules: []Rule{{Kind: RuleFile, Matcher: Glob("[a-"), Handler: noop}}}); !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("expected invalid rule pattern, got %v", err)
	}
}

func TestWalkerTraversalErrorIsReturned(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	root := t.TempDir()
	writeTree(t, root, "locked/secret.txt")
	locked := filepath.Join(root, "locked")
	if err := os.Chmod(locked, 0o000); err != nil {
		t.Fatalf("chmod: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chmod(locked, 0o755)
	})

	w := newWalker(t, Options{Root: root})
	if err := w.OnMatch(nil, Found(func(context.Context, Entry) error { return nil })); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := w.Ready(context.Background()); !errors.Is(err, os.ErrPermission) {
		t.Fatalf("expected permission error, got %v", err)
	}
}

func TestWalkerRecordsMetrics(t *testing.T) {
	registry := &metrics.Registry{}
	w := newWalker(t, Options{Root: fixtureRoot(t), Metrics: registry})

	var files []string
	if err := w.Register(Rule{Name: "texts", Kind: RuleFile, Matcher: Glob("**/*.txt"), Handler: Found(collect(&files))}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := w.Ready(context.Background()); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if got := registry.Matches("texts"); got != 1 {
		t.Fatalf("expected one recorded match, got %d", got)
	}
	var out strings.Builder
	if err := registry.WritePrometheus(&out); err != nil {
		t.Fatalf("write metrics: %v", err)
	}
	if !strings.Contains(out.String(), "fswalk_walks_completed_total 1") || !strings.Contains(out.String(), "fswalk_entries_total 4") {
		t.Fatalf("unexpected metrics:\n%s", out.String())
	}
}
