package runtime

import (
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"buddy/textutil"
	"buddy/tools"
)

// pendingApproval is one shell-approval request awaiting either a policy
// decision or an explicit ApproveCommand from a frontend.
type pendingApproval struct {
	taskID  uint64
	request tools.ApprovalRequest
}

// handleApprovalRequest consumes one request arriving from the shell
// approval broker: resolves it immediately under policy, or stores it for
// later resolution and emits a waiting-approval event.
func (rt *runtimeActor) handleApprovalRequest(request tools.ApprovalRequest) {
	if rt.active == nil {
		// Defensive fallback: deny rather than risk executing without an
		// owning task.
		request.Deny()
		rt.emit(WarningEvent{Message: "approval request arrived without an active task; denied"})
		return
	}

	if rt.approvalPolicy.Mode != ApprovalPolicyNone && matchesAutoApproveGlob(rt.approvalPolicy.AutoApproveGlobs, request.Command) {
		rt.resolvePendingApproval(pendingApproval{taskID: rt.active.taskID, request: request}, ApprovalApprove)
		return
	}

	if decision, ok := activeApprovalDecision(&rt.approvalPolicy); ok {
		rt.resolvePendingApproval(pendingApproval{taskID: rt.active.taskID, request: request}, decision)
		return
	}

	approvalID := nextApprovalID(rt.active.taskID, &rt.approvalNonce)

	event := TaskWaitingApprovalEvent{
		Task:       TaskRef{TaskID: rt.active.taskID},
		ApprovalID: approvalID,
		Command:    truncatePreview(request.Command, 140),
	}
	if meta := request.Metadata; meta != nil {
		event.Risk = string(meta.Risk)
		event.Mutation = meta.Mutation
		event.Privesc = meta.Privesc
		event.Why = truncatePreview(meta.Why, 220)
	}
	rt.emit(event)

	rt.pendingApprovals[approvalID] = pendingApproval{taskID: rt.active.taskID, request: request}
}

// activeApprovalDecision returns the immediate decision an approval policy
// resolves to, or false when the policy requires interactive (Ask) input.
// An expired Until window self-resets the policy to Ask.
func activeApprovalDecision(policy *RuntimeApprovalPolicy) (ApprovalDecision, bool) {
	switch policy.Mode {
	case ApprovalPolicyAll:
		return ApprovalApprove, true
	case ApprovalPolicyNone:
		return ApprovalDeny, true
	case ApprovalPolicyUntil:
		if uint64(time.Now().UnixMilli()) < policy.ExpiresAtUnixMs {
			return ApprovalApprove, true
		}
		*policy = RuntimeApprovalPolicy{Mode: ApprovalPolicyAsk}
		return 0, false
	default: // ApprovalPolicyAsk
		return 0, false
	}
}

// resolvePendingApproval applies decision to pending's broker request and
// emits an advisory warning so frontends can render the outcome.
func (rt *runtimeActor) resolvePendingApproval(pending pendingApproval, decision ApprovalDecision) {
	task := TaskRef{TaskID: pending.taskID}
	switch decision {
	case ApprovalApprove:
		pending.request.Approve()
		rt.emit(WarningEvent{Task: &task, Message: "approval granted"})
	default:
		pending.request.Deny()
		rt.emit(WarningEvent{Task: &task, Message: "approval denied"})
	}
}

// denyPendingApprovalsForTask removes and denies every pending approval
// belonging to taskID, used on task cancellation/completion/shutdown.
func denyPendingApprovalsForTask(taskID uint64, pending map[string]pendingApproval) {
	var ids []string
	for id, p := range pending {
		if p.taskID == taskID {
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		p := pending[id]
		delete(pending, id)
		p.request.Deny()
	}
}

// matchesAutoApproveGlob reports whether command matches any of globs, a
// set of doublestar patterns an operator configures to skip interactive
// approval for known-safe, frequently repeated commands (e.g. "git
// status*"). A malformed pattern is treated as a non-match rather than
// an error, since a broken allowlist entry should never itself block
// approval flow.
func matchesAutoApproveGlob(globs []string, command string) bool {
	for _, pattern := range globs {
		if ok, err := doublestar.Match(pattern, command); err == nil && ok {
			return true
		}
	}
	return false
}

// nextApprovalID mints "appr-<task_id>-<4-hex-digit nonce>", matching a
// simple monotonic counter rather than anything cryptographically random;
// uniqueness only needs to hold within one runtime actor's lifetime.
func nextApprovalID(taskID uint64, nonce *uint64) string {
	*nonce++
	return fmt.Sprintf("appr-%d-%04x", taskID, *nonce)
}

// truncatePreview flattens newlines and truncates to maxChars runes with a
// "..." suffix, used for approval-event previews so a multi-line command
// doesn't blow up a single event line.
func truncatePreview(text string, maxChars int) string {
	flat := strings.ReplaceAll(text, "\n", " ")
	return textutil.TruncateWithSuffixByChars(flat, maxChars, "...")
}
