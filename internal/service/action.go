package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"escrowsystem/internal/model"
)

// Action 编排器接受的动作，封闭集合，只能由本包内的类型实现
type Action interface {
	Kind() model.ActionKind
	validate() error
}

type Fund struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency,omitempty"` // 为空时取托管币种
}

type Start struct {
	MilestoneID string `json:"milestone_id"`
}

type Submit struct {
	MilestoneID string `json:"milestone_id"`
	Notes       string `json:"notes,omitempty"`
}

type Approve struct {
	MilestoneID string `json:"milestone_id"`
	Feedback    string `json:"feedback,omitempty"`
	Rating      *int   `json:"rating,omitempty"`
}

type RequestRevision struct {
	MilestoneID string `json:"milestone_id"`
	Feedback    string `json:"feedback"`
}

type Dispute struct {
	MilestoneID string `json:"milestone_id"`
	Reason      string `json:"reason,omitempty"`
}

type Refund struct {
	Reason string `json:"reason,omitempty"`
}

type Cancel struct {
	Reason string `json:"reason,omitempty"`
}

// Resolve 争议裁决，ReleaseAmount 放给工作者，其余退回客户
type Resolve struct {
	ReleaseAmount *int64 `json:"release_amount"`
	Note          string `json:"note,omitempty"`
}

func (Fund) Kind() model.ActionKind            { return model.ActionFund }
func (Start) Kind() model.ActionKind           { return model.ActionStart }
func (Submit) Kind() model.ActionKind          { return model.ActionSubmit }
func (Approve) Kind() model.ActionKind         { return model.ActionApprove }
func (RequestRevision) Kind() model.ActionKind { return model.ActionRequestRevision }
func (Dispute) Kind() model.ActionKind         { return model.ActionDispute }
func (Refund) Kind() model.ActionKind          { return model.ActionRefund }
func (Cancel) Kind() model.ActionKind          { return model.ActionCancel }
func (Resolve) Kind() model.ActionKind         { return model.ActionResolve }

func (a Fund) validate() error {
	if a.Amount <= 0 {
		return errors.New("amount must be positive")
	}
	return nil
}

func (a Start) validate() error           { return requireMilestone(a.MilestoneID) }
func (a Submit) validate() error          { return requireMilestone(a.MilestoneID) }
func (a Dispute) validate() error         { return requireMilestone(a.MilestoneID) }
func (a RequestRevision) validate() error { return requireMilestone(a.MilestoneID) }
func (Refund) validate() error            { return nil }
func (Cancel) validate() error            { return nil }

func (a Approve) validate() error {
	if err := requireMilestone(a.MilestoneID); err != nil {
		return err
	}
	if a.Rating != nil && (*a.Rating < 1 || *a.Rating > 5) {
		return errors.New("rating must be between 1 and 5")
	}
	return nil
}

func (a Resolve) validate() error {
	if a.ReleaseAmount == nil {
		return errors.New("release_amount is required")
	}
	if *a.ReleaseAmount < 0 {
		return errors.New("release_amount must not be negative")
	}
	return nil
}

func requireMilestone(id string) error {
	if id == "" {
		return errors.New("milestone_id is required")
	}
	return nil
}

// DecodeAction 在边界处把 kind + JSON 载荷解析为具体动作
// 未知 kind、未知字段、缺少必填字段都返回 ErrInvalidPayload
func DecodeAction(kind string, payload json.RawMessage) (Action, error) {
	var (
		action Action
		err    error
	)
	switch model.ActionKind(kind) {
	case model.ActionFund:
		action, err = decodeInto[Fund](payload)
	case model.ActionStart:
		action, err = decodeInto[Start](payload)
	case model.ActionSubmit:
		action, err = decodeInto[Submit](payload)
	case model.ActionApprove:
		action, err = decodeInto[Approve](payload)
	case model.ActionRequestRevision:
		action, err = decodeInto[RequestRevision](payload)
	case model.ActionDispute:
		action, err = decodeInto[Dispute](payload)
	case model.ActionRefund:
		action, err = decodeInto[Refund](payload)
	case model.ActionCancel:
		action, err = decodeInto[Cancel](payload)
	case model.ActionResolve:
		action, err = decodeInto[Resolve](payload)
	default:
		return nil, fmt.Errorf("%w: unknown action %q", model.ErrInvalidPayload, kind)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrInvalidPayload, kind, err)
	}
	if err := action.validate(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrInvalidPayload, kind, err)
	}
	return action, nil
}

func decodeInto[T Action](payload json.RawMessage) (Action, error) {
	var v T
	if len(bytes.TrimSpace(payload)) == 0 {
		return v, nil
	}
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after payload")
	}
	return v, nil
}
