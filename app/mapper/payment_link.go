package mapper

import (
	"time"

	"github.com/vibast-solutions/ms-go-collections/app/entity"
	"github.com/vibast-solutions/ms-go-collections/app/progress"
	"github.com/vibast-solutions/ms-go-collections/app/service"
	"github.com/vibast-solutions/ms-go-collections/app/types"
)

func PaymentLinkToResponse(item *entity.PaymentLink) *types.PaymentLink {
	if item == nil {
		return nil
	}

	return &types.PaymentLink{
		Id:            item.ID,
		ClientId:      item.ClientID,
		GatewayLinkId: derefString(item.GatewayLinkID),
		Url:           item.URL,
		Amount:        item.Amount.StringFixed(2),
		Description:   derefString(item.Description),
		PaymentStatus: item.PaymentStatus,
		SmsStatus:     item.SmsStatus,
		SmsSentAt:     formatTime(item.SmsSentAt),
		PaidAt:        formatTime(item.PaidAt),
		CreatedAt:     item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func PaymentLinksToResponse(items []*entity.PaymentLink) []*types.PaymentLink {
	result := make([]*types.PaymentLink, 0, len(items))
	for _, item := range items {
		result = append(result, PaymentLinkToResponse(item))
	}
	return result
}

func DashboardToResponse(stats *service.DashboardStats) *types.DashboardResponse {
	return &types.DashboardResponse{
		TotalOutstanding:   stats.TotalOutstanding.StringFixed(2),
		TotalPaidThisMonth: stats.TotalPaidThisMonth.StringFixed(2),
		PendingCount:       stats.PendingCount,
		RecentPaid:         PaymentLinksToResponse(stats.RecentPaid),
	}
}

func ProgressToResponse(operation string, snapshot *progress.Snapshot) *types.ProgressResponse {
	resp := &types.ProgressResponse{Operation: operation}
	if snapshot == nil {
		return resp
	}
	resp.Running = true
	resp.Total = snapshot.Total
	resp.Processed = snapshot.Processed
	if !snapshot.StartedAt.IsZero() {
		resp.StartedAt = snapshot.StartedAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func TriggerToResponse(result *service.TriggerResult) *types.BatchTriggerResponse {
	return &types.BatchTriggerResponse{
		Queued:  result.Queued,
		JobId:   result.JobID,
		Total:   result.Total,
		Message: result.Message,
	}
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatTime(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}
