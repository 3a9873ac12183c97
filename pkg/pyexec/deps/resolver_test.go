package deps

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/rhuss/sktools/pkg/pyexec/safety"
)

// fakeInstaller records calls and fails packages listed in fail.
type fakeInstaller struct {
	mu         sync.Mutex
	present    map[string]bool
	fail       map[string]string
	missingErr error
	installed  []string
	deadlines  []bool
}

func (f *fakeInstaller) Missing(_ context.Context, modules []string) ([]string, error) {
	if f.missingErr != nil {
		return nil, f.missingErr
	}
	var out []string
	for _, m := range modules {
		if !f.present[m] {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeInstaller) Install(ctx context.Context, pkg string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, hasDeadline := ctx.Deadline()
	f.deadlines = append(f.deadlines, hasDeadline)
	f.installed = append(f.installed, pkg)
	if msg, ok := f.fail[pkg]; ok {
		return msg, errors.New("exit status 1")
	}
	return "ok", nil
}

func TestScan(t *testing.T) {
	r := New(Config{})
	src := `import numpy as np, pandas
from sklearn.model_selection import train_test_split
import os.path
  import indented
x = "import quoted"
from .local import thing
import numpy
`
	got := r.Scan(src)
	want := []string{"numpy", "pandas", "sklearn", "os"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Scan() = %v, want %v", got, want)
	}
}

func TestPlan(t *testing.T) {
	r := New(Config{Policy: safety.NewPolicy(safety.DefaultRestricted, true)})
	set := r.Plan("import json\nimport subprocess\nfrom PIL import Image\nimport cv2\nimport requests\nfrom __future__ import annotations\n")

	wantModules := []string{"PIL", "cv2", "requests"}
	if !reflect.DeepEqual(set.Modules, wantModules) {
		t.Errorf("Modules = %v, want %v", set.Modules, wantModules)
	}
	wantPkgs := []string{"pillow", "opencv-python", "requests"}
	if got := set.Requirements(); !reflect.DeepEqual(got, wantPkgs) {
		t.Errorf("Requirements() = %v, want %v", got, wantPkgs)
	}
	if set.Log() != "" {
		t.Errorf("Plan should not log, got %q", set.Log())
	}
}

func TestPlan_DeduplicatesPackages(t *testing.T) {
	r := New(Config{Aliases: map[string]string{"skimage": "scikit-image", "skimage2": "scikit-image"}})
	set := r.Plan("import skimage\nimport skimage2\n")
	if len(set.Modules) != 2 || len(set.Packages) != 1 || set.Packages[0].Name != "scikit-image" {
		t.Errorf("set = %+v", set)
	}
}

func TestResolve(t *testing.T) {
	inst := &fakeInstaller{
		present: map[string]bool{"numpy": true},
		fail:    map[string]string{"notarealmodule123": "ERROR: No matching distribution found for notarealmodule123\n"},
	}
	r := New(Config{Installer: inst})

	set := r.Resolve(context.Background(), "import numpy\nimport bs4\nimport notarealmodule123\n")

	if !reflect.DeepEqual(inst.installed, []string{"beautifulsoup4", "notarealmodule123"}) {
		t.Errorf("installed = %v", inst.installed)
	}
	for i, d := range inst.deadlines {
		if !d {
			t.Errorf("install %d ran without a deadline", i)
		}
	}

	wantLog := "Installing packages: beautifulsoup4, notarealmodule123\n" +
		"Successfully installed beautifulsoup4\n" +
		"Failed to install notarealmodule123: ERROR: No matching distribution found for notarealmodule123"
	if set.Log() != wantLog {
		t.Errorf("Log() =\n%s\nwant\n%s", set.Log(), wantLog)
	}
	if got := set.Names(OutcomePresent); !reflect.DeepEqual(got, []string{"numpy"}) {
		t.Errorf("present = %v", got)
	}
	if got := set.Names(OutcomeFailed); !reflect.DeepEqual(got, []string{"notarealmodule123"}) {
		t.Errorf("failed = %v", got)
	}
}

func TestResolve_SingleInstallForMissingModule(t *testing.T) {
	inst := &fakeInstaller{fail: map[string]string{"notarealmodule123": "not found"}}
	set := New(Config{Installer: inst}).Resolve(context.Background(), "import notarealmodule123")

	if len(inst.installed) != 1 || inst.installed[0] != "notarealmodule123" {
		t.Fatalf("installed = %v, want exactly one attempt", inst.installed)
	}
	if set.Packages[0].Outcome != OutcomeFailed || set.Packages[0].Message != "not found" {
		t.Errorf("package = %+v", set.Packages[0])
	}
}

func TestResolve_NetworkingDisabled(t *testing.T) {
	inst := &fakeInstaller{}
	r := New(Config{Policy: safety.NewPolicy(safety.DefaultRestricted, false), Installer: inst})

	set := r.Resolve(context.Background(), "import pandas\nimport scipy\n")
	if set.Log() != LogNetworkDisabled {
		t.Errorf("Log() = %q", set.Log())
	}
	if len(inst.installed) != 0 {
		t.Errorf("no installs expected, got %v", inst.installed)
	}
	if got := set.Names(OutcomeNetworkDisabled); len(got) != 2 {
		t.Errorf("network-disabled = %v", got)
	}

	empty := r.Resolve(context.Background(), "print(1)")
	if empty.Log() != "" {
		t.Errorf("nothing to install should not log, got %q", empty.Log())
	}
}

func TestResolve_RestrictedExceptionStillNotInstalled(t *testing.T) {
	// requests passes the analyzer through the networking exception but is
	// still on the denylist, so it is never installed.
	inst := &fakeInstaller{}
	r := New(Config{Policy: safety.NewPolicy(safety.StrictRestricted, true), Installer: inst})

	set := r.Resolve(context.Background(), "import requests\n")
	if len(inst.installed) != 0 {
		t.Errorf("installed = %v", inst.installed)
	}
	want := "Installing packages: requests\nCannot install restricted module: requests"
	if set.Log() != want {
		t.Errorf("Log() = %q, want %q", set.Log(), want)
	}
	if set.Packages[0].Outcome != OutcomeSkippedRestricted {
		t.Errorf("outcome = %s", set.Packages[0].Outcome)
	}
}

func TestResolve_InvalidAlias(t *testing.T) {
	inst := &fakeInstaller{}
	r := New(Config{Installer: inst, Aliases: map[string]string{"evil": "evil; rm -rf /"}})

	set := r.Resolve(context.Background(), "import evil\n")
	if len(inst.installed) != 0 {
		t.Errorf("installed = %v", inst.installed)
	}
	if set.Packages[0].Outcome != OutcomeInvalid {
		t.Errorf("outcome = %s", set.Packages[0].Outcome)
	}
}

func TestResolve_MissingCheckFails(t *testing.T) {
	inst := &fakeInstaller{missingErr: errors.New("python not found")}
	set := New(Config{Installer: inst}).Resolve(context.Background(), "import attrs\n")
	if len(inst.installed) != 1 || set.Packages[0].Outcome != OutcomeInstalled {
		t.Errorf("installed = %v, set = %+v", inst.installed, set.Packages)
	}
}

func TestResolve_NoInstaller(t *testing.T) {
	set := New(Config{}).Resolve(context.Background(), "import attrs\n")
	if set.Packages[0].Outcome != OutcomePending || set.Log() != "" {
		t.Errorf("set = %+v log=%q", set.Packages, set.Log())
	}
}

// slowInstaller blocks until its context is done.
type slowInstaller struct{}

func (slowInstaller) Missing(_ context.Context, m []string) ([]string, error) { return m, nil }

func (slowInstaller) Install(ctx context.Context, _ string) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestResolve_InstallTimeout(t *testing.T) {
	r := New(Config{Installer: slowInstaller{}, InstallTimeout: 20 * time.Millisecond})

	start := time.Now()
	set := r.Resolve(context.Background(), "import attrs\n")
	if time.Since(start) > 2*time.Second {
		t.Fatal("install timeout not enforced")
	}
	if set.Packages[0].Outcome != OutcomeFailed {
		t.Errorf("outcome = %s", set.Packages[0].Outcome)
	}
}

// countingLock counts acquisitions.
type countingLock struct {
	sync.Mutex
	n int
}

func (l *countingLock) Lock() { l.Mutex.Lock(); l.n++ }

func TestResolve_HoldsLock(t *testing.T) {
	lock := &countingLock{}
	r := New(Config{Installer: &fakeInstaller{}, Lock: lock})

	r.Resolve(context.Background(), "import attrs\n")
	r.Resolve(context.Background(), "print(1)\n")
	if lock.n != 1 {
		t.Errorf("lock acquired %d times, want 1", lock.n)
	}
}

func TestSetNil(t *testing.T) {
	var s *Set
	if s.Log() != "" || s.Names(OutcomeFailed) != nil || s.Requirements() != nil {
		t.Error("nil set accessors should be empty")
	}
}

func TestInstallPackages(t *testing.T) {
	inst := &fakeInstaller{present: map[string]bool{"numpy": true}, fail: map[string]string{"broken": "no matching distribution"}}
	r := New(Config{Installer: inst})

	set := r.InstallPackages(context.Background(), []string{"numpy", " broken ", "numpy", "", "subprocess", "bad;name"})
	if want := []string{"numpy", "broken"}; !reflect.DeepEqual(inst.installed, want) {
		t.Errorf("installed = %v, want %v", inst.installed, want)
	}
	if got := set.Names(OutcomeInstalled); !reflect.DeepEqual(got, []string{"numpy"}) {
		t.Errorf("installed outcome = %v", got)
	}
	if got := set.Names(OutcomeFailed); !reflect.DeepEqual(got, []string{"broken"}) {
		t.Errorf("failed outcome = %v", got)
	}
	if got := set.Names(OutcomeSkippedRestricted); !reflect.DeepEqual(got, []string{"subprocess"}) {
		t.Errorf("restricted outcome = %v", got)
	}
	if got := set.Names(OutcomeInvalid); !reflect.DeepEqual(got, []string{"bad;name"}) {
		t.Errorf("invalid outcome = %v", got)
	}
	want := "Installing packages: numpy, broken, subprocess, bad;name\n" +
		"Successfully installed numpy\n" +
		"Failed to install broken: no matching distribution\n" +
		"Cannot install restricted module: subprocess\n" +
		"Package name contains invalid characters: bad;name"
	if set.Log() != want {
		t.Errorf("Log() = %q, want %q", set.Log(), want)
	}
}

func TestInstallPackages_Empty(t *testing.T) {
	inst := &fakeInstaller{}
	set := New(Config{Installer: inst}).InstallPackages(context.Background(), nil)
	if set.Log() != "" || len(set.Packages) != 0 || len(inst.installed) != 0 {
		t.Errorf("empty list should do nothing, got %+v", set)
	}

	off := New(Config{Policy: safety.NewPolicy(safety.DefaultRestricted, false), Installer: inst})
	set = off.InstallPackages(context.Background(), []string{"pandas"})
	if set.Log() != LogNetworkDisabled || len(inst.installed) != 0 {
		t.Errorf("Log() = %q, installed = %v", set.Log(), inst.installed)
	}
}
