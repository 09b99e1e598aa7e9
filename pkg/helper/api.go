package helper

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Request is the helper's request vocabulary (spec.md §4.5):
// {op:"container_status_map"} or {op:"service_action"|"container_action", action, target}.
type Request struct {
	Op     string `json:"op"`
	Action string `json:"action"`
	Target string `json:"target"`
}

// Response always carries {ok, return_code, stdout, stderr}; container_status_map
// additionally carries containers.
type Response struct {
	OK         bool                         `json:"ok"`
	ReturnCode int                          `json:"return_code"`
	Stdout     string                       `json:"stdout"`
	Stderr     string                       `json:"stderr"`
	Containers map[string]ContainerStatus   `json:"containers,omitempty"`
}

// ContainerStatus is one row of `docker ps -a`'s parsed tab-separated output.
type ContainerStatus struct {
	Status string `json:"status"`
	Image  string `json:"image"`
	Ports  string `json:"ports"`
}

// API is the privileged executor living inside cmd/rc-helper: it owns the
// allowlist and is the sole authority on what is executable, per spec.md
// §4.5 ("the helper ... is the sole authority on what is executable").
type API struct {
	allowlist *Allowlist
}

func NewAPI(allowlist *Allowlist) *API {
	return &API{allowlist: allowlist}
}

// Execute dispatches one request. It never panics: any unexpected error
// is folded into a {ok:false} response, matching the Python original's
// run_cmd contract of returning a result envelope rather than raising.
func (a *API) Execute(req Request) Response {
	switch req.Op {
	case "container_status_map":
		return a.containerStatusMap()
	case "service_action":
		return a.runAction("service", req.Action, req.Target, "systemctl")
	case "container_action":
		return a.runAction("container", req.Action, req.Target, "docker")
	default:
		return Response{OK: false, ReturnCode: -1, Stderr: "Unsupported operation."}
	}
}

func (a *API) runAction(targetType, action, target, program string) Response {
	if target == "" {
		return Response{OK: false, ReturnCode: -1, Stderr: "Target is required."}
	}

	allowedActions := a.allowlist.allowedActions(targetType)
	if _, ok := allowedActions[action]; !ok {
		return Response{OK: false, ReturnCode: -1, Stderr: fmt.Sprintf("Action '%s' is not allowed for %s.", action, targetType)}
	}

	allowedTargets := a.allowlist.servicesSet()
	label := "Service"
	if targetType == "container" {
		allowedTargets = a.allowlist.containersSet()
		label = "Container"
	}
	if _, ok := allowedTargets[target]; !ok {
		return Response{OK: false, ReturnCode: -1, Stderr: fmt.Sprintf("%s '%s' is not in allowlist.", label, target)}
	}

	return runCmd(45*time.Second, program, action, target)
}

func (a *API) containerStatusMap() Response {
	resp := runCmd(20*time.Second, "docker", "ps", "-a", "--format", "{{.Names}}\t{{.Status}}\t{{.Image}}\t{{.Ports}}")
	if !resp.OK {
		return resp
	}
	containers := make(map[string]ContainerStatus)
	for _, line := range strings.Split(resp.Stdout, "\n") {
		if line == "" {
			continue
		}
		parts := strings.Split(line, "\t")
		if len(parts) < 4 {
			continue
		}
		containers[parts[0]] = ContainerStatus{Status: parts[1], Image: parts[2], Ports: parts[3]}
	}
	resp.Containers = containers
	return resp
}

// runCmd executes program with args under a hard wall-clock timeout,
// always returning a result envelope — a timeout or spawn failure never
// propagates as an error, matching the Python original's run_cmd.
func runCmd(timeout time.Duration, program string, args ...string) Response {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, program, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	returnCode := -1
	if cmd.ProcessState != nil {
		returnCode = cmd.ProcessState.ExitCode()
	}

	stderrStr := strings.TrimSpace(stderr.String())
	if ctx.Err() == context.DeadlineExceeded {
		return Response{OK: false, ReturnCode: -1, Stderr: fmt.Sprintf("Command timed out after %s", timeout)}
	}
	if err != nil && stderrStr == "" {
		stderrStr = err.Error()
	}
	return Response{
		OK:         err == nil,
		ReturnCode: returnCode,
		Stdout:     strings.TrimSpace(stdout.String()),
		Stderr:     stderrStr,
	}
}
