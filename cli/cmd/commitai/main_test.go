package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"commitai/cli/internal/credential"
	"commitai/cli/internal/erruser"
	"commitai/cli/internal/git"
	"commitai/cli/internal/openai"
	"commitai/cli/internal/prompt"
	"commitai/cli/internal/version"
)

const (
	testSummary = "Adds a greeting file."
	testMessage = "feat: add greeting"
)

// isolate points every config, credential and key source at temp paths.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("COMMITAI_CREDENTIAL_FILE", filepath.Join(dir, "credentials"))
	t.Setenv("COMMITAI_BASE_URL", "")
	t.Setenv("COMMITAI_GIT_BACKEND", "")
	t.Setenv("COMMITAI_WORKSPACE_FILE", "")
	t.Setenv("COMMITAI_LOG_LEVEL", "")
	return dir
}

func fakeAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
			return
		}
		switch r.URL.Path {
		case "/v1/completions":
			var req struct {
				Prompt string `json:"prompt"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			text := testMessage
			if strings.HasPrefix(req.Prompt, prompt.DiffSummaryInstruction) {
				text = testSummary
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"choices": []map[string]string{{"text": "\n" + text}},
			})
		case "/v1/models":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]string{{"id": openai.Model}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "git", "init")
	run(t, dir, "git", "config", "user.email", "test@commitai.local")
	run(t, dir, "git", "config", "user.name", "Test")
	run(t, dir, "git", "config", "commit.gpgsign", "false")
	writeFile(t, dir, "README.md", "# demo\n")
	run(t, dir, "git", "add", "README.md")
	run(t, dir, "git", "commit", "-m", "init")
	writeFile(t, dir, "hello.txt", "hello\n")
	run(t, dir, "git", "add", "hello.txt")
	return dir
}

func run(t *testing.T, dir, name string, args ...string) {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("%s %v: %v\n%s", name, args, err, out)
	}
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func runCmd(t *testing.T, stdin string, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = runCLIWith(args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRunCLI_helpAndVersion(t *testing.T) {
	t.Parallel()
	if code, _, _ := runCmd(t, "", "--help"); code != 0 {
		t.Errorf("--help exit = %d, want 0", code)
	}
	code, out, _ := runCmd(t, "", "--version")
	if code != 0 {
		t.Errorf("--version exit = %d, want 0", code)
	}
	if !strings.Contains(out, version.String()) {
		t.Errorf("--version output = %q, want %q", out, version.String())
	}
	if code, _, _ := runCmd(t, "", "no-such-command"); code != 1 {
		t.Errorf("unknown command exit = %d, want 1", code)
	}
}

func TestSetKey_fromStdin(t *testing.T) {
	dir := isolate(t)
	code, out, errOut := runCmd(t, "sk-live-123\n", "set-key")
	if code != 0 {
		t.Fatalf("set-key exit = %d; stderr: %s", code, errOut)
	}
	credPath := filepath.Join(dir, "credentials")
	if !strings.Contains(out, credPath) {
		t.Errorf("stdout = %q, want path %s", out, credPath)
	}
	got, ok, err := credential.NewFileStore(credPath).Get(context.Background(), credential.KeyName)
	if err != nil || !ok || got != "sk-live-123" {
		t.Errorf("stored key = %q, %v, %v; want sk-live-123", got, ok, err)
	}
}

func TestSetKey_emptyInputKeepsExistingKey(t *testing.T) {
	dir := isolate(t)
	credPath := filepath.Join(dir, "credentials")
	if err := credential.NewFileStore(credPath).Set(context.Background(), credential.KeyName, "sk-old"); err != nil {
		t.Fatal(err)
	}
	code, _, errOut := runCmd(t, "   \n", "set-key")
	if code != 0 {
		t.Fatalf("set-key exit = %d", code)
	}
	if !strings.Contains(errOut, "unchanged") {
		t.Errorf("stderr = %q, want unchanged notice", errOut)
	}
	got, _, _ := credential.NewFileStore(credPath).Get(context.Background(), credential.KeyName)
	if got != "sk-old" {
		t.Errorf("stored key = %q, want sk-old", got)
	}
}

func TestGenerate_missingKeyTouchesNothing(t *testing.T) {
	isolate(t)
	srv := fakeAPI(t)
	t.Setenv("COMMITAI_BASE_URL", srv.URL+"/v1")
	repo := initRepo(t)

	code, out, errOut := runCmd(t, "", "generate", "-q", repo)
	if code != 1 {
		t.Fatalf("generate exit = %d, want 1", code)
	}
	if out != "" {
		t.Errorf("stdout = %q, want empty", out)
	}
	if !strings.Contains(errOut, "You don't have an OpenAI API key set.") {
		t.Errorf("stderr = %q, want missing key message", errOut)
	}
	if !strings.Contains(errOut, "Hint: Set one with: commitai set-key") {
		t.Errorf("stderr = %q, want set-key hint", errOut)
	}
	if _, err := os.Stat(filepath.Join(repo, ".git", git.MessageFilename)); !os.IsNotExist(err) {
		t.Errorf("pending message written without a key (stat err = %v)", err)
	}
}

func TestGenerate_endToEnd(t *testing.T) {
	for _, backend := range []string{git.BackendCLI, git.BackendGoGit} {
		t.Run(backend, func(t *testing.T) {
			isolate(t)
			srv := fakeAPI(t)
			t.Setenv("COMMITAI_BASE_URL", srv.URL+"/v1")
			t.Setenv("OPENAI_API_KEY", "sk-test")
			repo := initRepo(t)

			code, out, errOut := runCmd(t, "", "generate", "--backend", backend, repo)
			if code != 0 {
				t.Fatalf("generate exit = %d; stderr: %s", code, errOut)
			}
			if out != testMessage+"\n" {
				t.Errorf("stdout = %q, want %q", out, testMessage+"\n")
			}
			if !strings.Contains(errOut, "[1/1] hello.txt") {
				t.Errorf("progress = %q, want hello.txt line", errOut)
			}
			data, err := os.ReadFile(filepath.Join(repo, ".git", git.MessageFilename))
			if err != nil {
				t.Fatalf("read pending message: %v", err)
			}
			if string(data) != testMessage+"\n" {
				t.Errorf("pending message = %q", data)
			}
		})
	}
}

func TestGenerate_hookAndMessage(t *testing.T) {
	isolate(t)
	srv := fakeAPI(t)
	t.Setenv("COMMITAI_BASE_URL", srv.URL+"/v1")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	repo := initRepo(t)
	hook := filepath.Join(t.TempDir(), "COMMIT_EDITMSG")

	code, _, errOut := runCmd(t, "", "generate", "-q", "--hook", hook, repo)
	if code != 0 {
		t.Fatalf("generate exit = %d; stderr: %s", code, errOut)
	}
	data, err := os.ReadFile(hook)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != testMessage+"\n" {
		t.Errorf("hook file = %q", data)
	}

	code, out, errOut := runCmd(t, "", "message", "--details", repo)
	if code != 0 {
		t.Fatalf("message exit = %d; stderr: %s", code, errOut)
	}
	if !strings.HasPrefix(out, testMessage+"\n") || !strings.Contains(out, "Files: hello.txt") {
		t.Errorf("message output = %q", out)
	}
}

func TestGenerate_repoFlagSelectsOne(t *testing.T) {
	isolate(t)
	srv := fakeAPI(t)
	t.Setenv("COMMITAI_BASE_URL", srv.URL+"/v1")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	one, two := initRepo(t), initRepo(t)

	code, out, errOut := runCmd(t, "", "generate", "-q", "--repo", two, one, two)
	if code != 0 {
		t.Fatalf("generate exit = %d; stderr: %s", code, errOut)
	}
	if out != testMessage+"\n" {
		t.Errorf("stdout = %q", out)
	}
	if _, err := os.Stat(filepath.Join(one, ".git", git.MessageFilename)); !os.IsNotExist(err) {
		t.Errorf("unselected repository got a message (stat err = %v)", err)
	}
}

func TestGenerate_unopenableDirDoesNotStopOthers(t *testing.T) {
	isolate(t)
	srv := fakeAPI(t)
	t.Setenv("COMMITAI_BASE_URL", srv.URL+"/v1")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	good := initRepo(t)
	missing := filepath.Join(t.TempDir(), "gone")

	code, out, errOut := runCmd(t, "", "generate", "-q", good, missing)
	if code != 1 {
		t.Fatalf("generate exit = %d, want 1; stderr: %s", code, errOut)
	}
	if out != testMessage+"\n" {
		t.Errorf("stdout = %q, want the good repository's message", out)
	}
	if !strings.Contains(errOut, missing) {
		t.Errorf("stderr = %q, want the failed dir named", errOut)
	}
	data, err := os.ReadFile(filepath.Join(good, ".git", git.MessageFilename))
	if err != nil || string(data) != testMessage+"\n" {
		t.Errorf("pending message = %q, %v; want it written", data, err)
	}
}

func TestMessage_noneYet(t *testing.T) {
	isolate(t)
	repo := initRepo(t)
	code, _, errOut := runCmd(t, "", "message", repo)
	if code != 1 {
		t.Fatalf("message exit = %d, want 1", code)
	}
	if !strings.Contains(errOut, "No pending commit message.") || !strings.Contains(errOut, "commitai generate") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestDoctor_ok(t *testing.T) {
	isolate(t)
	srv := fakeAPI(t)
	t.Setenv("COMMITAI_BASE_URL", srv.URL+"/v1")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	code, out, errOut := runCmd(t, "", "doctor")
	if code != 0 {
		t.Fatalf("doctor exit = %d; stderr: %s", code, errOut)
	}
	for _, want := range []string{"Git OK", "API key set", "Endpoint OK", openai.Model} {
		if !strings.Contains(out, want) {
			t.Errorf("doctor output missing %q:\n%s", want, out)
		}
	}
}

func TestDoctor_unreachableExits2(t *testing.T) {
	isolate(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	t.Setenv("COMMITAI_BASE_URL", url)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	code, _, errOut := runCmd(t, "", "doctor")
	if code != 2 {
		t.Fatalf("doctor exit = %d, want 2; stderr: %s", code, errOut)
	}
	if !strings.Contains(errOut, "unreachable") {
		t.Errorf("stderr = %q, want unreachable message", errOut)
	}
}

func TestDoctor_rejectedKey(t *testing.T) {
	isolate(t)
	srv := fakeAPI(t)
	t.Setenv("COMMITAI_BASE_URL", srv.URL+"/v1")
	t.Setenv("OPENAI_API_KEY", "sk-wrong")
	code, _, errOut := runCmd(t, "", "doctor")
	if code != 1 {
		t.Fatalf("doctor exit = %d, want 1", code)
	}
	if !strings.Contains(errOut, "rejected") {
		t.Errorf("stderr = %q, want rejected key message", errOut)
	}
}

func TestBudgetMapping(t *testing.T) {
	t.Parallel()
	if summarizeBudget(0) != -1 || summarizeBudget(500) != 500 {
		t.Errorf("summarizeBudget: 0 -> %d, 500 -> %d", summarizeBudget(0), summarizeBudget(500))
	}
	if pipelineConcurrency(0) != -1 || pipelineConcurrency(2) != 2 {
		t.Errorf("pipelineConcurrency: 0 -> %d, 2 -> %d", pipelineConcurrency(0), pipelineConcurrency(2))
	}
	if requestTimeout(0) >= 0 || requestTimeout(30*time.Second) != 30*time.Second {
		t.Errorf("requestTimeout: 0 -> %v, 30s -> %v", requestTimeout(0), requestTimeout(30*time.Second))
	}
}

func TestPrintError(t *testing.T) {
	t.Parallel()
	cause := errors.New("exit status 128")
	inner := erruser.WithHint("Could not list staged changes.", "Is this a Git repository?", cause)
	err := fmt.Errorf("/src/app: %w", inner)
	var buf bytes.Buffer
	printError(&buf, err)
	want := "/src/app: Could not list staged changes.\nHint: Is this a Git repository?\nDetails: exit status 128\n"
	if buf.String() != want {
		t.Errorf("printError = %q, want %q", buf.String(), want)
	}
}
