package mixup

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestEligibleModulesAll(t *testing.T) {
	model := &stubModel{modules: []Module{
		&stubModule{scale: 2},
		&stubModule{tag: NonMixable, scale: 3},
		Mark(&stubModule{scale: 4}),
	}}

	mods, err := eligibleModules(model, false, quietLogger())
	if err != nil {
		t.Fatalf("eligibleModules failed: %v", err)
	}

	if len(mods) != 2 {
		t.Fatalf("got %d eligible modules, want 2", len(mods))
	}
	if mods[0] != model.modules[0] || mods[1] != model.modules[2] {
		t.Errorf("eligible set is not the ordered non-NonMixable subset")
	}
}

func TestEligibleModulesOnlyMarked(t *testing.T) {
	marked := Mark(&stubModule{scale: 4})
	model := &stubModel{modules: []Module{
		&stubModule{scale: 2},
		marked,
	}}

	mods, err := eligibleModules(model, true, quietLogger())
	if err != nil {
		t.Fatalf("eligibleModules failed: %v", err)
	}

	if len(mods) != 1 || mods[0] != Module(marked) {
		t.Errorf("got %v, want only the marked module", mods)
	}
}

func TestEligibleModulesEmpty(t *testing.T) {
	model := &stubModel{modules: []Module{&stubModule{scale: 2}}}

	_, err := eligibleModules(model, true, quietLogger())
	if err == nil {
		t.Fatalf("expected error with no marked modules")
	}
	if !strings.Contains(err.Error(), "Mark") {
		t.Errorf("error should name the remediation, got: %v", err)
	}

	model = &stubModel{modules: []Module{&stubModule{tag: NonMixable}}}
	if _, err = eligibleModules(model, false, quietLogger()); err == nil {
		t.Errorf("expected error with every module NonMixable")
	}
}

func TestEligibleModulesLogsCount(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	model := &stubModel{modules: []Module{
		&stubModule{scale: 2},
		&stubModule{scale: 3},
	}}

	if _, err := eligibleModules(model, false, logger); err != nil {
		t.Fatalf("eligibleModules failed: %v", err)
	}

	if !strings.Contains(buf.String(), "2 modules eligible") {
		t.Errorf("expected eligible count in log, got: %q", buf.String())
	}
}

func TestMarkNilPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Errorf("Mark(nil) should panic")
		}
	}()
	Mark(nil)
}
