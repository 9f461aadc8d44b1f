package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"chatcore/pkg/domain"
	"chatcore/pkg/storage"
	"chatcore/pkg/store"
	"chatcore/pkg/webhook"
)

func newTestApp(t *testing.T) (*App, *store.MemoryStore) {
	t.Helper()
	memStore := store.NewMemoryStore()
	a, err := New(Config{
		Store:              memStore,
		InitialCreditGrant: 100,
		JobStaleAfter:      10 * time.Minute,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	if _, err := a.SeedModels(); err != nil {
		t.Fatalf("seed models: %v", err)
	}
	return a, memStore
}

func createdEvent(deliveryID, externalID, email, name string) webhook.Event {
	return webhook.Event{
		Kind:       webhook.EventUserCreated,
		DeliveryID: deliveryID,
		UserID:     externalID,
		Email:      email,
		Name:       name,
		Raw:        json.RawMessage(`{}`),
	}
}

func provisionUser(t *testing.T, a *App, externalID string) domain.User {
	t.Helper()
	if err := a.ApplyIdentityEvent(context.Background(), createdEvent("msg_"+externalID, externalID, externalID+"@example.com", "Test User")); err != nil {
		t.Fatalf("apply created event: %v", err)
	}
	user, found, err := a.GetCurrentUser(externalID)
	if err != nil || !found {
		t.Fatalf("lookup provisioned user: found=%v err=%v", found, err)
	}
	return user
}

func activeModel(t *testing.T, a *App) domain.Model {
	t.Helper()
	models, err := a.ListModels(true)
	if err != nil {
		t.Fatalf("list models: %v", err)
	}
	if len(models) == 0 {
		t.Fatal("no active models seeded")
	}
	return models[0]
}

func TestIdentityEventProvisionsUserWithInitialGrant(t *testing.T) {
	a, _ := newTestApp(t)

	user := provisionUser(t, a, "user_1")
	if user.Credits != 100 {
		t.Fatalf("initial credits = %d, want 100", user.Credits)
	}
	if user.Email != "user_1@example.com" {
		t.Fatalf("email = %q", user.Email)
	}
}

func TestIdentityEventReplayIsNoOp(t *testing.T) {
	a, _ := newTestApp(t)

	event := createdEvent("msg_dup", "user_1", "a@example.com", "A")
	if err := a.ApplyIdentityEvent(context.Background(), event); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	user, _, _ := a.GetCurrentUser("user_1")
	if err := a.GrantCredits(user.ID, 50, "topup-1"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	// Same delivery id again: must not re-run the upsert or the grant.
	if err := a.ApplyIdentityEvent(context.Background(), event); err != nil {
		t.Fatalf("replayed apply: %v", err)
	}
	user, _, _ = a.GetCurrentUser("user_1")
	if user.Credits != 150 {
		t.Fatalf("credits after replay = %d, want 150", user.Credits)
	}
}

// flakyStore fails a configured number of upserts to simulate transient
// database trouble during webhook processing.
type flakyStore struct {
	store.Store
	failUpserts int
}

func (f *flakyStore) UpsertUserByExternalID(externalID, email, name string, initialCredits int64) (domain.User, bool, error) {
	if f.failUpserts > 0 {
		f.failUpserts--
		return domain.User{}, false, errors.New("connection reset")
	}
	return f.Store.UpsertUserByExternalID(externalID, email, name, initialCredits)
}

func (f *flakyStore) ApplyDelivery(deliveryID, eventKind string, payload []byte, apply func(store.Store) error) (bool, error) {
	return f.Store.ApplyDelivery(deliveryID, eventKind, payload, func(store.Store) error { return apply(f) })
}

func TestIdentityEventRetryAfterTransientFailure(t *testing.T) {
	flaky := &flakyStore{Store: store.NewMemoryStore(), failUpserts: 1}
	a, err := New(Config{
		Store:              flaky,
		InitialCreditGrant: 100,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}

	event := createdEvent("msg_retry", "user_1", "a@example.com", "A")
	if err := a.ApplyIdentityEvent(context.Background(), event); err == nil {
		t.Fatal("first apply should surface the store failure")
	}
	// The provider redelivers on non-2xx. The failed attempt must not have
	// left a dedup record that swallows the retry.
	if err := a.ApplyIdentityEvent(context.Background(), event); err != nil {
		t.Fatalf("retried apply: %v", err)
	}
	user, found, err := a.GetCurrentUser("user_1")
	if err != nil || !found {
		t.Fatalf("user not provisioned by retry: found=%v err=%v", found, err)
	}
	if user.Credits != 100 {
		t.Fatalf("credits = %d, want 100", user.Credits)
	}
}

func TestIdentityUpdateDoesNotRegrant(t *testing.T) {
	a, _ := newTestApp(t)
	user := provisionUser(t, a, "user_1")

	update := webhook.Event{
		Kind:       webhook.EventUserUpdated,
		DeliveryID: "msg_update",
		UserID:     "user_1",
		Email:      "new@example.com",
		Name:       "New Name",
		Raw:        json.RawMessage(`{}`),
	}
	if err := a.ApplyIdentityEvent(context.Background(), update); err != nil {
		t.Fatalf("apply update: %v", err)
	}
	updated, _, _ := a.GetCurrentUser("user_1")
	if updated.ID != user.ID {
		t.Fatalf("update changed user id: %s -> %s", user.ID, updated.ID)
	}
	if updated.Email != "new@example.com" || updated.Name != "New Name" {
		t.Fatalf("update not applied: %+v", updated)
	}
	if updated.Credits != 100 {
		t.Fatalf("credits after update = %d, want 100", updated.Credits)
	}
}

func TestUpdateBeforeCreateProvisions(t *testing.T) {
	a, _ := newTestApp(t)

	// Out-of-order delivery: the update arrives first and must provision.
	update := webhook.Event{
		Kind:       webhook.EventUserUpdated,
		DeliveryID: "msg_u",
		UserID:     "user_1",
		Email:      "a@example.com",
		Raw:        json.RawMessage(`{}`),
	}
	if err := a.ApplyIdentityEvent(context.Background(), update); err != nil {
		t.Fatalf("apply update: %v", err)
	}
	user, found, _ := a.GetCurrentUser("user_1")
	if !found {
		t.Fatal("update before create did not provision user")
	}
	if user.Credits != 100 {
		t.Fatalf("credits = %d, want 100", user.Credits)
	}
}

func TestDeleteThenRecreateGetsFreshGrant(t *testing.T) {
	a, _ := newTestApp(t)
	user := provisionUser(t, a, "user_1")
	if err := a.GrantCredits(user.ID, 900, "topup-1"); err != nil {
		t.Fatalf("grant: %v", err)
	}

	del := webhook.Event{Kind: webhook.EventUserDeleted, DeliveryID: "msg_del", UserID: "user_1", Raw: json.RawMessage(`{}`)}
	if err := a.ApplyIdentityEvent(context.Background(), del); err != nil {
		t.Fatalf("apply delete: %v", err)
	}
	if _, found, _ := a.GetCurrentUser("user_1"); found {
		t.Fatal("user still present after delete")
	}
	// Delete for an absent user is acknowledged.
	del.DeliveryID = "msg_del2"
	if err := a.ApplyIdentityEvent(context.Background(), del); err != nil {
		t.Fatalf("redelivered delete: %v", err)
	}

	recreated := provisionUser(t, a, "user_1")
	if recreated.ID == user.ID {
		t.Fatal("recreate reused the old user id")
	}
	if recreated.Credits != 100 {
		t.Fatalf("recreated credits = %d, want fresh grant of 100", recreated.Credits)
	}
}

func TestUnknownEventKindIsAcknowledged(t *testing.T) {
	a, _ := newTestApp(t)
	event := webhook.Event{Kind: webhook.EventUnknown, DeliveryID: "msg_x", Raw: json.RawMessage(`{"type":"session.created"}`)}
	if err := a.ApplyIdentityEvent(context.Background(), event); err != nil {
		t.Fatalf("unknown kind must be a no-op, got %v", err)
	}
}

func TestGrantCreditsIdempotencyKey(t *testing.T) {
	a, _ := newTestApp(t)
	user := provisionUser(t, a, "user_1")

	if err := a.GrantCredits(user.ID, 40, "order-77"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := a.GrantCredits(user.ID, 40, "order-77"); err != nil {
		t.Fatalf("retried grant: %v", err)
	}
	got, _, _ := a.GetCurrentUser("user_1")
	if got.Credits != 140 {
		t.Fatalf("credits = %d, want 140 (single grant)", got.Credits)
	}

	if err := a.GrantCredits(user.ID, 0, "order-78"); err == nil {
		t.Fatal("zero grant must be rejected")
	}
	if err := a.GrantCredits(user.ID, -5, "order-79"); err == nil {
		t.Fatal("negative grant must be rejected")
	}
}

func TestConversationRequiresActiveModel(t *testing.T) {
	a, _ := newTestApp(t)
	user := provisionUser(t, a, "user_1")

	if _, err := a.CreateConversation(user, "no-such-model", ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown model: got %v, want ErrNotFound", err)
	}

	models, _ := a.ListModels(false)
	var inactive domain.Model
	for _, m := range models {
		if !m.Active {
			inactive = m
			break
		}
	}
	if inactive.ID == "" {
		t.Fatal("seed catalog has no inactive model")
	}
	if _, err := a.CreateConversation(user, inactive.ID, ""); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("inactive model: got %v, want ErrNotFound", err)
	}

	conv, err := a.CreateConversation(user, activeModel(t, a).ID, "")
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	if conv.Title != "New conversation" {
		t.Fatalf("default title = %q", conv.Title)
	}
}

func TestMessageOrderingAndPagination(t *testing.T) {
	a, _ := newTestApp(t)
	user := provisionUser(t, a, "user_1")
	model := activeModel(t, a)
	conv, _ := a.CreateConversation(user, model.ID, "chat")
	other, _ := a.CreateConversation(user, model.ID, "other")

	for i := 0; i < 5; i++ {
		if _, err := a.AppendMessage(user, conv.ID, domain.RoleUser, "hello", domain.MessageStatusNone); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		// Interleave appends to another conversation; ordering is
		// per-conversation and must not be disturbed.
		if _, err := a.AppendMessage(user, other.ID, domain.RoleUser, "noise", domain.MessageStatusNone); err != nil {
			t.Fatalf("append other %d: %v", i, err)
		}
	}

	page1, err := a.ListMessages(user, conv.ID, 0, 3)
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if len(page1) != 3 {
		t.Fatalf("page 1 len = %d, want 3", len(page1))
	}
	page2, err := a.ListMessages(user, conv.ID, page1[len(page1)-1].Seq, 3)
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(page2) != 2 {
		t.Fatalf("page 2 len = %d, want 2", len(page2))
	}
	var lastSeq int64
	for _, msg := range append(page1, page2...) {
		if msg.Seq <= lastSeq {
			t.Fatalf("sequence not strictly increasing: %d after %d", msg.Seq, lastSeq)
		}
		if msg.ConversationID != conv.ID {
			t.Fatalf("message from wrong conversation: %s", msg.ConversationID)
		}
		lastSeq = msg.Seq
	}
}

func TestSingleStreamingMessagePerConversation(t *testing.T) {
	a, _ := newTestApp(t)
	user := provisionUser(t, a, "user_1")
	conv, _ := a.CreateConversation(user, activeModel(t, a).ID, "")

	if _, err := a.AppendMessage(user, conv.ID, domain.RoleUser, "question", domain.MessageStatusStreaming); err == nil {
		t.Fatal("non-assistant streaming message must be rejected")
	}

	first, err := a.AppendMessage(user, conv.ID, domain.RoleAssistant, "", domain.MessageStatusStreaming)
	if err != nil {
		t.Fatalf("append streaming: %v", err)
	}
	if _, err := a.AppendMessage(user, conv.ID, domain.RoleAssistant, "", domain.MessageStatusStreaming); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("second streaming message: got %v, want ErrInvalidStateTransition", err)
	}

	if err := a.TransitionMessageStatus(user, first.ID, domain.MessageStatusComplete); err != nil {
		t.Fatalf("settle streaming message: %v", err)
	}
	// Settled; a new streaming message may start.
	if _, err := a.AppendMessage(user, conv.ID, domain.RoleAssistant, "", domain.MessageStatusStreaming); err != nil {
		t.Fatalf("streaming after settle: %v", err)
	}
}

func TestMessageStatusTransitions(t *testing.T) {
	a, _ := newTestApp(t)
	user := provisionUser(t, a, "user_1")
	conv, _ := a.CreateConversation(user, activeModel(t, a).ID, "")

	msg, _ := a.AppendMessage(user, conv.ID, domain.RoleAssistant, "", domain.MessageStatusStreaming)
	if err := a.TransitionMessageStatus(user, msg.ID, domain.MessageStatusStreaming); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("streaming->streaming: got %v", err)
	}
	if err := a.TransitionMessageStatus(user, msg.ID, domain.MessageStatusError); err != nil {
		t.Fatalf("streaming->error: %v", err)
	}
	// Terminal states do not transition again.
	if err := a.TransitionMessageStatus(user, msg.ID, domain.MessageStatusComplete); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("error->complete: got %v", err)
	}

	settled, _ := a.AppendMessage(user, conv.ID, domain.RoleUser, "hi", domain.MessageStatusNone)
	if err := a.TransitionMessageStatus(user, settled.ID, domain.MessageStatusComplete); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("non-streaming message transition: got %v", err)
	}
}

func TestRecordUsageDebitsByModelCost(t *testing.T) {
	a, _ := newTestApp(t)
	user := provisionUser(t, a, "user_1")
	model := activeModel(t, a)
	conv, _ := a.CreateConversation(user, model.ID, "")
	msg, _ := a.AppendMessage(user, conv.ID, domain.RoleAssistant, "answer", domain.MessageStatusNone)

	if err := a.RecordUsage(user, msg.ID, 1500); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	want := 100 - domain.UsageCost(1500, model.CostPer1KTokens)
	got, _, _ := a.GetCurrentUser("user_1")
	if got.Credits != want {
		t.Fatalf("credits = %d, want %d", got.Credits, want)
	}
}

func TestRecordUsageRetryChargesOnce(t *testing.T) {
	a, _ := newTestApp(t)
	user := provisionUser(t, a, "user_1")
	model := activeModel(t, a)
	conv, _ := a.CreateConversation(user, model.ID, "")
	msg, _ := a.AppendMessage(user, conv.ID, domain.RoleAssistant, "answer", domain.MessageStatusNone)

	if err := a.RecordUsage(user, msg.ID, 1000); err != nil {
		t.Fatalf("record usage: %v", err)
	}
	// A client that missed the response retries the identical report.
	if err := a.RecordUsage(user, msg.ID, 1000); err != nil {
		t.Fatalf("retried usage: %v", err)
	}
	want := 100 - domain.UsageCost(1000, model.CostPer1KTokens)
	got, _, _ := a.GetCurrentUser("user_1")
	if got.Credits != want {
		t.Fatalf("credits = %d, want %d (charged more than once)", got.Credits, want)
	}
}

func TestRecordUsageInsufficientCredits(t *testing.T) {
	a, _ := newTestApp(t)
	user := provisionUser(t, a, "user_1")
	model := activeModel(t, a)
	conv, _ := a.CreateConversation(user, model.ID, "")
	msg, _ := a.AppendMessage(user, conv.ID, domain.RoleAssistant, "answer", domain.MessageStatusNone)

	huge := int(200_000)
	err := a.RecordUsage(user, msg.ID, huge)
	if !errors.Is(err, store.ErrInsufficientCredits) {
		t.Fatalf("got %v, want ErrInsufficientCredits", err)
	}
	got, _, _ := a.GetCurrentUser("user_1")
	if got.Credits != 100 {
		t.Fatalf("failed debit must not change balance: %d", got.Credits)
	}
}

func TestConversationOwnershipIsolation(t *testing.T) {
	a, _ := newTestApp(t)
	owner := provisionUser(t, a, "user_1")
	intruder := provisionUser(t, a, "user_2")
	conv, _ := a.CreateConversation(owner, activeModel(t, a).ID, "private")

	if _, err := a.ListMessages(intruder, conv.ID, 0, 10); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign conversation read: got %v, want ErrNotFound", err)
	}
	if _, err := a.AppendMessage(intruder, conv.ID, domain.RoleUser, "hi", domain.MessageStatusNone); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign conversation append: got %v, want ErrNotFound", err)
	}
}

func TestEnqueueImageDebitsUpFront(t *testing.T) {
	a, _ := newTestApp(t)
	user := provisionUser(t, a, "user_1")

	job, err := a.EnqueueImage(context.Background(), user, "a lighthouse at dusk", 512, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if job.Status != domain.JobPending || job.Cost != 10 {
		t.Fatalf("unexpected job: %+v", job)
	}
	got, _, _ := a.GetCurrentUser("user_1")
	if got.Credits != 90 {
		t.Fatalf("credits after enqueue = %d, want 90", got.Credits)
	}

	if _, err := a.EnqueueImage(context.Background(), user, "", 512, ""); err == nil {
		t.Fatal("empty prompt must be rejected")
	}
	if _, err := a.EnqueueImage(context.Background(), user, "x", 640, ""); err == nil {
		t.Fatal("unsupported resolution must be rejected")
	}
}

func TestEnqueueImageInsufficientCredits(t *testing.T) {
	a, _ := newTestApp(t)
	user := provisionUser(t, a, "user_1")

	// Drain to below the cheapest job.
	for i := 0; i < 2; i++ {
		if _, err := a.EnqueueImage(context.Background(), user, "p", 1024, ""); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	_, err := a.EnqueueImage(context.Background(), user, "p", 1024, "")
	if !errors.Is(err, store.ErrInsufficientCredits) {
		t.Fatalf("got %v, want ErrInsufficientCredits", err)
	}
	got, _, _ := a.GetCurrentUser("user_1")
	if got.Credits != 20 {
		t.Fatalf("rejected enqueue must not debit: %d", got.Credits)
	}
}

func TestImageJobLifecycle(t *testing.T) {
	a, _ := newTestApp(t)
	user := provisionUser(t, a, "user_1")
	job, _ := a.EnqueueImage(context.Background(), user, "p", 768, "")

	claimed, err := a.ClaimJob(job.ID)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != domain.JobProcessing || claimed.ClaimedAt == nil {
		t.Fatalf("unexpected claimed job: %+v", claimed)
	}
	if _, err := a.ClaimJob(job.ID); !errors.Is(err, store.ErrAlreadyClaimed) {
		t.Fatalf("double claim: got %v, want ErrAlreadyClaimed", err)
	}

	// Empty result ref falls back to the canonical object key.
	if err := a.CompleteJob(context.Background(), job.ID, ""); err != nil {
		t.Fatalf("complete: %v", err)
	}
	done, err := a.GetImageJob(user, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if done.Status != domain.JobCompleted || done.CompletedAt == nil {
		t.Fatalf("unexpected completed job: %+v", done)
	}
	if done.ResultRef != storage.ResultKey(job.ID) {
		t.Fatalf("result ref = %q, want canonical key", done.ResultRef)
	}
	// Terminal; neither transition applies again.
	if err := a.CompleteJob(context.Background(), job.ID, "other"); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("complete twice: got %v", err)
	}
	if err := a.FailJob(context.Background(), job.ID, "late failure"); !errors.Is(err, store.ErrInvalidStateTransition) {
		t.Fatalf("fail after complete: got %v", err)
	}

	got, _, _ := a.GetCurrentUser("user_1")
	if got.Credits != 80 {
		t.Fatalf("completed job must keep the debit: %d", got.Credits)
	}
}

func TestFailJobRefunds(t *testing.T) {
	a, _ := newTestApp(t)
	user := provisionUser(t, a, "user_1")
	job, _ := a.EnqueueImage(context.Background(), user, "p", 1024, "")
	if _, err := a.ClaimJob(job.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if err := a.FailJob(context.Background(), job.ID, "inference backend unavailable"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	failed, _ := a.GetImageJob(user, job.ID)
	if failed.Status != domain.JobFailed || failed.ErrorMessage == "" {
		t.Fatalf("unexpected failed job: %+v", failed)
	}
	got, _, _ := a.GetCurrentUser("user_1")
	if got.Credits != 100 {
		t.Fatalf("failed job must refund: %d", got.Credits)
	}
}

func TestReclaimStalledJobRequeuesOnce(t *testing.T) {
	memStore := store.NewMemoryStore()
	a, err := New(Config{Store: memStore, InitialCreditGrant: 100, JobStaleAfter: time.Millisecond})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	user := provisionUser(t, a, "user_1")
	job, err := a.EnqueueImage(context.Background(), user, "p", 512, "")
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := a.ClaimJob(job.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	requeued, err := a.ReclaimStalledJobs(context.Background())
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if requeued != 1 {
		t.Fatalf("requeued = %d, want 1", requeued)
	}
	reborn, _ := a.GetImageJob(user, job.ID)
	if reborn.Status != domain.JobPending || !reborn.Reclaimed || reborn.ClaimedAt != nil {
		t.Fatalf("unexpected reclaimed job: %+v", reborn)
	}

	// Second stall: the job fails permanently and refunds.
	if _, err := a.ClaimJob(job.ID); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	requeued, err = a.ReclaimStalledJobs(context.Background())
	if err != nil {
		t.Fatalf("second reclaim: %v", err)
	}
	if requeued != 0 {
		t.Fatalf("second stall must not requeue, got %d", requeued)
	}
	dead, _ := a.GetImageJob(user, job.ID)
	if dead.Status != domain.JobFailed {
		t.Fatalf("second stall status = %s, want failed", dead.Status)
	}
	got, _, _ := a.GetCurrentUser("user_1")
	if got.Credits != 100 {
		t.Fatalf("second stall must refund: %d", got.Credits)
	}
}

func TestReclaimLeavesFreshClaimsAlone(t *testing.T) {
	a, _ := newTestApp(t) // 10 minute staleness window
	user := provisionUser(t, a, "user_1")
	job, _ := a.EnqueueImage(context.Background(), user, "p", 512, "")
	if _, err := a.ClaimJob(job.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}

	requeued, err := a.ReclaimStalledJobs(context.Background())
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if requeued != 0 {
		t.Fatalf("fresh claim reclaimed: %d", requeued)
	}
	still, _ := a.GetImageJob(user, job.ID)
	if still.Status != domain.JobProcessing {
		t.Fatalf("status = %s, want processing", still.Status)
	}
}

func TestImageJobOwnershipIsolation(t *testing.T) {
	a, _ := newTestApp(t)
	owner := provisionUser(t, a, "user_1")
	intruder := provisionUser(t, a, "user_2")
	job, _ := a.EnqueueImage(context.Background(), owner, "p", 512, "")

	if _, err := a.GetImageJob(intruder, job.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("foreign job read: got %v, want ErrNotFound", err)
	}
	jobs, _ := a.ListImageJobs(intruder, 10)
	if len(jobs) != 0 {
		t.Fatalf("foreign job listed: %d", len(jobs))
	}
}

func TestFileURLWithoutStorage(t *testing.T) {
	a, _ := newTestApp(t)
	if _, err := a.FileURL(context.Background(), "images/x.png"); !errors.Is(err, ErrStorageNotConfigured) {
		t.Fatalf("got %v, want ErrStorageNotConfigured", err)
	}
}
