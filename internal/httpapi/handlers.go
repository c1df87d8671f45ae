package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/peterje/rec/internal/errs"
	"github.com/peterje/rec/internal/exec"
	"github.com/peterje/rec/internal/files"
	"github.com/peterje/rec/internal/session"
)

type createSessionRequest struct {
	Session        string   `json:"session"`
	StartupSource  []string `json:"startup_source,omitempty"`
	StartupTimeout float64  `json:"startup_timeout,omitempty"`
}

type createSessionResponse struct {
	Output      string `json:"output"`
	SessionType string `json:"session_type"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var body createSessionRequest
	if err := decodeBody(r, &body); err != nil {
		writeAppError(w, err)
		return
	}
	if body.Session == "" {
		writeAppError(w, errs.New(errs.BadRequest, "session name is required"))
		return
	}

	result, err := s.registry.Create(session.OpenRequest{
		Name:           body.Session,
		StartupSource:  body.StartupSource,
		StartupTimeout: secondsToDuration(body.StartupTimeout),
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createSessionResponse{Output: result.Output, SessionType: result.SessionType})
}

type runInSessionRequest struct {
	Session              string   `json:"session"`
	Command              string   `json:"command"`
	Timeout              float64  `json:"timeout,omitempty"`
	IsInteractiveCommand bool     `json:"is_interactive_command,omitempty"`
	IsInteractiveQuit    bool     `json:"is_interactive_quit,omitempty"`
	Expect               []string `json:"expect,omitempty"`
	Check                bool     `json:"check,omitempty"`
}

type runInSessionResponse struct {
	Output        string `json:"output"`
	ExitCode      int    `json:"exit_code"`
	FailureReason string `json:"failure_reason,omitempty"`
	ExpectString  string `json:"expect_string,omitempty"`
	SessionType   string `json:"session_type"`
}

func (s *Server) handleRunInSession(w http.ResponseWriter, r *http.Request) {
	var body runInSessionRequest
	if err := decodeBody(r, &body); err != nil {
		writeAppError(w, err)
		return
	}

	sess, err := s.registry.Get(body.Session)
	if err != nil {
		writeAppError(w, err)
		return
	}

	result, err := sess.Run(session.RunAction{
		Command:              body.Command,
		Timeout:              secondsToDuration(body.Timeout),
		IsInteractiveCommand: body.IsInteractiveCommand,
		IsInteractiveQuit:    body.IsInteractiveQuit,
		Expect:               body.Expect,
		Check:                body.Check,
	})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runInSessionResponse{
		Output:        result.Output,
		ExitCode:      result.ExitCode,
		FailureReason: result.FailureReason,
		ExpectString:  result.ExpectString,
		SessionType:   result.SessionType,
	})
}

type interruptSessionRequest struct {
	Session string `json:"session"`
}

func (s *Server) handleInterruptSession(w http.ResponseWriter, r *http.Request) {
	var body interruptSessionRequest
	if err := decodeBody(r, &body); err != nil {
		writeAppError(w, err)
		return
	}

	sess, err := s.registry.Get(body.Session)
	if err != nil {
		writeAppError(w, err)
		return
	}
	result, err := sess.Interrupt()
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runInSessionResponse{
		Output:        result.Output,
		ExitCode:      result.ExitCode,
		FailureReason: result.FailureReason,
		ExpectString:  result.ExpectString,
		SessionType:   result.SessionType,
	})
}

type closeSessionRequest struct {
	Session string `json:"session"`
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	var body closeSessionRequest
	if err := decodeBody(r, &body); err != nil {
		writeAppError(w, err)
		return
	}
	if err := s.registry.Close(body.Session); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{})
}

type executeRequest struct {
	Command commandText `json:"command"`
	Shell   bool        `json:"shell,omitempty"`
	Timeout float64     `json:"timeout,omitempty"`
	Env     []string    `json:"env,omitempty"`
	Cwd     string      `json:"cwd,omitempty"`
}

// commandText accepts either a JSON string (shell form) or a JSON array of
// strings (argv form), matching subprocess.run()'s str | list[str] command
// argument.
type commandText struct {
	shell bool
	text  string
	argv  []string
}

func (c *commandText) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		c.shell, c.text = true, asString
		return nil
	}
	var asArgv []string
	if err := json.Unmarshal(data, &asArgv); err != nil {
		return err
	}
	c.shell, c.argv = false, asArgv
	return nil
}

// toExecRequest resolves the command, in whichever JSON form it arrived,
// into the shell string or argv vector that exec.Request expects for the
// given shell mode.
func (c commandText) toExecRequest(useShell bool) (shellCmd string, argv []string) {
	if useShell {
		if c.shell {
			return c.text, nil
		}
		return strings.Join(c.argv, " "), nil
	}
	if !c.shell {
		return "", c.argv
	}
	return "", []string{c.text}
}

type executeResponse struct {
	Stdout        string `json:"stdout"`
	Stderr        string `json:"stderr"`
	ExitCode      int    `json:"exit_code"`
	FailureReason string `json:"failure_reason,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var body executeRequest
	if err := decodeBody(r, &body); err != nil {
		writeAppError(w, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.settings.ShutdownTimeout+exec.DefaultTimeout)
	defer cancel()

	shellCmd, argv := body.Command.toExecRequest(body.Shell)
	result, err := exec.Run(ctx, exec.Request{
		Command: shellCmd,
		Args:    argv,
		Shell:   body.Shell,
		Timeout: secondsToDuration(body.Timeout),
		Env:     body.Env,
		Cwd:     body.Cwd,
	}, s.logger)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, executeResponse{
		Stdout:        result.Stdout,
		Stderr:        result.Stderr,
		ExitCode:      result.ExitCode,
		FailureReason: result.FailureReason,
	})
}

type readFileRequest struct {
	Path     string `json:"path"`
	Encoding string `json:"encoding,omitempty"`
	Errors   string `json:"errors,omitempty"`
}

func (s *Server) handleReadFile(w http.ResponseWriter, r *http.Request) {
	var body readFileRequest
	if err := decodeBody(r, &body); err != nil {
		writeAppError(w, err)
		return
	}
	if body.Encoding != "" && !strings.EqualFold(body.Encoding, "utf-8") {
		writeAppError(w, errs.New(errs.BadRequest, "unsupported encoding %q, only utf-8 is supported", body.Encoding))
		return
	}

	content, err := files.Read(files.ReadRequest{Path: body.Path, Errors: files.ErrorPolicy(body.Errors)})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"content": content})
}

type writeFileRequest struct {
	Path          string `json:"path"`
	Content       string `json:"content"`
	CreateParents bool   `json:"create_parents,omitempty"`
}

func (s *Server) handleWriteFile(w http.ResponseWriter, r *http.Request) {
	var body writeFileRequest
	if err := decodeBody(r, &body); err != nil {
		writeAppError(w, err)
		return
	}
	if err := files.Write(files.WriteRequest{
		Path:          body.Path,
		Content:       body.Content,
		CreateParents: body.CreateParents,
	}); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{})
}

type uploadRequest struct {
	SourcePath string `json:"source_path"`
	TargetPath string `json:"target_path"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	var body uploadRequest
	if err := decodeBody(r, &body); err != nil {
		writeAppError(w, err)
		return
	}
	if err := files.Upload(files.UploadRequest{SourcePath: body.SourcePath, TargetPath: body.TargetPath}); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{})
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{})
	s.registry.CloseAll()
	s.requestShutdown()
}

func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
