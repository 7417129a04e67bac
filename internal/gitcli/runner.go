// Package gitcli shells out to the git binary. Production code runs the real
// binary; tests script responses per command.
package gitcli

import (
	"bytes"
	"context"
	"os/exec"
	"sync"
)

// Runner executes git with the given arguments in dir.
type Runner interface {
	// Run returns stdout, stderr, and the process error.
	Run(ctx context.Context, dir string, args ...string) (stdout, stderr []byte, err error)

	// Output returns stdout only.
	Output(ctx context.Context, dir string, args ...string) ([]byte, error)

	// Combined returns interleaved stdout and stderr, useful for error text.
	Combined(ctx context.Context, dir string, args ...string) ([]byte, error)
}

// ExecRunner runs the real git binary through os/exec.
type ExecRunner struct{}

func NewExecRunner() *ExecRunner { return &ExecRunner{} }

func (r *ExecRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

func (r *ExecRunner) Output(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	return cmd.Output()
}

func (r *ExecRunner) Combined(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// Response is a scripted result for one matched invocation.
type Response struct {
	Stdout []byte
	Stderr []byte
	Err    error
}

// Call records one invocation for assertions.
type Call struct {
	Dir  string
	Args []string
}

type rule struct {
	match    func(dir string, args []string) bool
	response Response
}

// ScriptedRunner matches invocations against registered rules, first match
// wins. Unmatched invocations succeed with empty output.
type ScriptedRunner struct {
	mu    sync.Mutex
	rules []rule
	calls []Call
}

func NewScriptedRunner() *ScriptedRunner { return &ScriptedRunner{} }

// Script registers a rule matched by argument prefix.
func (r *ScriptedRunner) Script(prefix []string, response Response) {
	r.ScriptFunc(func(dir string, args []string) bool {
		if len(args) < len(prefix) {
			return false
		}
		for i, want := range prefix {
			if args[i] != want {
				return false
			}
		}
		return true
	}, response)
}

func (r *ScriptedRunner) ScriptFunc(match func(dir string, args []string) bool, response Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule{match: match, response: response})
}

// Calls returns every recorded invocation.
func (r *ScriptedRunner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

func (r *ScriptedRunner) lookup(dir string, args []string) Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Dir: dir, Args: args})
	for _, rule := range r.rules {
		if rule.match(dir, args) {
			return rule.response
		}
	}
	return Response{}
}

func (r *ScriptedRunner) Run(ctx context.Context, dir string, args ...string) ([]byte, []byte, error) {
	resp := r.lookup(dir, args)
	return resp.Stdout, resp.Stderr, resp.Err
}

func (r *ScriptedRunner) Output(ctx context.Context, dir string, args ...string) ([]byte, error) {
	resp := r.lookup(dir, args)
	return resp.Stdout, resp.Err
}

func (r *ScriptedRunner) Combined(ctx context.Context, dir string, args ...string) ([]byte, error) {
	resp := r.lookup(dir, args)
	return append(append([]byte(nil), resp.Stdout...), resp.Stderr...), resp.Err
}

var (
	_ Runner = (*ExecRunner)(nil)
	_ Runner = (*ScriptedRunner)(nil)
)
