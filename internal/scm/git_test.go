package scm

import (
	"errors"
	"testing"

	"github.com/dub-build/dub/internal/log"
)

func inferrerWith(outputs map[string]string, errs map[string]error) *Inferrer {
	return NewWithRunner(log.NewNoop(), func(dir string, args ...string) (string, error) {
		key := args[0]
		if err, ok := errs[key]; ok {
			return "", err
		}
		return outputs[key], nil
	})
}

func TestInferVersionExactTag(t *testing.T) {
	i := inferrerWith(map[string]string{
		"describe": "v1.4.2-0-gabc1234",
	}, nil)
	v, err := i.InferVersion("/repo")
	if err != nil {
		t.Fatalf("InferVersion error = %v", err)
	}
	if v.String() != "1.4.2" {
		t.Errorf("version = %s, want 1.4.2", v)
	}
}

func TestInferVersionCommitsPastTag(t *testing.T) {
	i := inferrerWith(map[string]string{
		"describe": "v1.4.2-7-gabc1234",
	}, nil)
	v, err := i.InferVersion("/repo")
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "1.4.2+commit.7.abc1234" {
		t.Errorf("version = %s, want 1.4.2+commit.7.abc1234", v)
	}
}

func TestInferVersionTagWithBuildMetadata(t *testing.T) {
	i := inferrerWith(map[string]string{
		"describe": "v1.4.2+embedded-3-gdef5678",
	}, nil)
	v, err := i.InferVersion("/repo")
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "1.4.2+embedded.commit.3.def5678" {
		t.Errorf("version = %s, want dot-joined commit suffix", v)
	}
}

func TestInferVersionBranchFallback(t *testing.T) {
	i := inferrerWith(map[string]string{
		"rev-parse": "feature/shiny",
	}, map[string]error{
		"describe": errors.New("no tags"),
	})
	v, err := i.InferVersion("/repo")
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "~feature/shiny" {
		t.Errorf("version = %s, want ~feature/shiny", v)
	}
}

func TestInferVersionDetachedHead(t *testing.T) {
	i := inferrerWith(map[string]string{
		"rev-parse": "HEAD",
	}, map[string]error{
		"describe": errors.New("no tags"),
	})
	_, err := i.InferVersion("/repo")
	var unavailable *ErrSCMUnavailable
	if !errors.As(err, &unavailable) {
		t.Errorf("error = %v, want ErrSCMUnavailable", err)
	}
}
