package service

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/bigkaa/smartact/internal/domain/model"
	"github.com/bigkaa/smartact/internal/extractor"
	"github.com/bigkaa/smartact/internal/repository"
	"github.com/bigkaa/smartact/internal/storage/audiostore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strPtr(s string) *string { return &s }

// --- Mock RecordingRepository ---

type mockRecordingRepo struct {
	createFn  func(ctx context.Context, rec *model.Recording) error
	getByIDFn func(ctx context.Context, ownerID, id string) (*model.Recording, error)
}

func (m *mockRecordingRepo) Create(ctx context.Context, rec *model.Recording) error {
	if m.createFn != nil {
		return m.createFn(ctx, rec)
	}
	return nil
}

func (m *mockRecordingRepo) GetByID(ctx context.Context, ownerID, id string) (*model.Recording, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, ownerID, id)
	}
	return nil, repository.ErrNotFound
}

// --- Mock MeetingRepository ---

type mockMeetingRepo struct {
	createFn        func(ctx context.Context, m *model.Meeting) error
	getByIDFn       func(ctx context.Context, ownerID, id string) (*model.Meeting, error)
	getByIDAnyFn    func(ctx context.Context, id string) (*model.Meeting, error)
	listFn          func(ctx context.Context, ownerID string, f repository.MeetingListFilters, limit, offset int) ([]*model.Meeting, error)
	claimDispatchFn func(ctx context.Context, ownerID, id string, at time.Time) error
	finishFn        func(ctx context.Context, id string, upd repository.TerminalUpdate) (*model.Meeting, error)
	snapshotFn      func(ctx context.Context, ownerID, id string) (model.MeetingSnapshot, error)
}

func (m *mockMeetingRepo) Create(ctx context.Context, mt *model.Meeting) error {
	if m.createFn != nil {
		return m.createFn(ctx, mt)
	}
	return nil
}

func (m *mockMeetingRepo) GetByID(ctx context.Context, ownerID, id string) (*model.Meeting, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, ownerID, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockMeetingRepo) GetByIDAny(ctx context.Context, id string) (*model.Meeting, error) {
	if m.getByIDAnyFn != nil {
		return m.getByIDAnyFn(ctx, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockMeetingRepo) List(ctx context.Context, ownerID string, f repository.MeetingListFilters, limit, offset int) ([]*model.Meeting, error) {
	if m.listFn != nil {
		return m.listFn(ctx, ownerID, f, limit, offset)
	}
	return []*model.Meeting{}, nil
}

func (m *mockMeetingRepo) ClaimDispatch(ctx context.Context, ownerID, id string, at time.Time) error {
	if m.claimDispatchFn != nil {
		return m.claimDispatchFn(ctx, ownerID, id, at)
	}
	return nil
}

func (m *mockMeetingRepo) Finish(ctx context.Context, id string, upd repository.TerminalUpdate) (*model.Meeting, error) {
	if m.finishFn != nil {
		return m.finishFn(ctx, id, upd)
	}
	return nil, repository.ErrNotFound
}

func (m *mockMeetingRepo) Snapshot(ctx context.Context, ownerID, id string) (model.MeetingSnapshot, error) {
	if m.snapshotFn != nil {
		return m.snapshotFn(ctx, ownerID, id)
	}
	return model.MeetingSnapshot{}, repository.ErrNotFound
}

// --- Mock ActionRepository ---

type mockActionRepo struct {
	createBatchFn  func(ctx context.Context, actions []*model.ExtractedAction) error
	getByIDFn      func(ctx context.Context, ownerID, id string) (*model.ExtractedAction, error)
	getForUpdateFn func(ctx context.Context, ownerID, id string) (*model.ExtractedAction, error)
	listFn         func(ctx context.Context, ownerID string, f repository.ActionListFilters, limit, offset int) ([]*model.ExtractedAction, error)
	countFn        func(ctx context.Context, ownerID string, f repository.ActionListFilters) (int, error)
	saveReviewFn   func(ctx context.Context, a *model.ExtractedAction) error
	updateStatusFn func(ctx context.Context, ownerID, id string, from, to model.ActionStatus, note *string) (*model.ExtractedAction, error)
	deleteFn       func(ctx context.Context, ownerID, id string) error
}

func (m *mockActionRepo) CreateBatch(ctx context.Context, actions []*model.ExtractedAction) error {
	if m.createBatchFn != nil {
		return m.createBatchFn(ctx, actions)
	}
	return nil
}

func (m *mockActionRepo) GetByID(ctx context.Context, ownerID, id string) (*model.ExtractedAction, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, ownerID, id)
	}
	return nil, repository.ErrNotFound
}

func (m *mockActionRepo) GetForUpdate(ctx context.Context, ownerID, id string) (*model.ExtractedAction, error) {
	if m.getForUpdateFn != nil {
		return m.getForUpdateFn(ctx, ownerID, id)
	}
	return m.GetByID(ctx, ownerID, id)
}

func (m *mockActionRepo) List(ctx context.Context, ownerID string, f repository.ActionListFilters, limit, offset int) ([]*model.ExtractedAction, error) {
	if m.listFn != nil {
		return m.listFn(ctx, ownerID, f, limit, offset)
	}
	return []*model.ExtractedAction{}, nil
}

func (m *mockActionRepo) Count(ctx context.Context, ownerID string, f repository.ActionListFilters) (int, error) {
	if m.countFn != nil {
		return m.countFn(ctx, ownerID, f)
	}
	return 0, nil
}

func (m *mockActionRepo) SaveReview(ctx context.Context, a *model.ExtractedAction) error {
	if m.saveReviewFn != nil {
		return m.saveReviewFn(ctx, a)
	}
	return nil
}

func (m *mockActionRepo) UpdateStatus(ctx context.Context, ownerID, id string, from, to model.ActionStatus, note *string) (*model.ExtractedAction, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, ownerID, id, from, to, note)
	}
	return nil, repository.ErrNotFound
}

func (m *mockActionRepo) Delete(ctx context.Context, ownerID, id string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, ownerID, id)
	}
	return nil
}

// --- Mock ConfirmationRepository ---

type mockConfirmationRepo struct {
	created      []*model.ActionConfirmation
	createFn     func(ctx context.Context, c *model.ActionConfirmation) error
	listByAction func(ctx context.Context, ownerID, actionID string) ([]*model.ActionConfirmation, error)
}

func (m *mockConfirmationRepo) Create(ctx context.Context, c *model.ActionConfirmation) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, c); err != nil {
			return err
		}
	}
	m.created = append(m.created, c)
	return nil
}

func (m *mockConfirmationRepo) ListByAction(ctx context.Context, ownerID, actionID string) ([]*model.ActionConfirmation, error) {
	if m.listByAction != nil {
		return m.listByAction(ctx, ownerID, actionID)
	}
	return []*model.ActionConfirmation{}, nil
}

// --- Fake Transactor ---

// fakeTx выполняет fn с теми же репозиториями; откат не моделируется,
// тесты проверяют только, что ошибка fn возвращается вызывающему.
type fakeTx struct {
	repos repository.Repositories
	calls int
}

func (f *fakeTx) InTx(_ context.Context, fn func(r repository.Repositories) error) error {
	f.calls++
	return fn(f.repos)
}

type testRepos struct {
	recordings    *mockRecordingRepo
	meetings      *mockMeetingRepo
	actions       *mockActionRepo
	confirmations *mockConfirmationRepo
}

func newTestRepos() *testRepos {
	return &testRepos{
		recordings:    &mockRecordingRepo{},
		meetings:      &mockMeetingRepo{},
		actions:       &mockActionRepo{},
		confirmations: &mockConfirmationRepo{},
	}
}

func (t *testRepos) repos() repository.Repositories {
	return repository.Repositories{
		Recordings:    t.recordings,
		Meetings:      t.meetings,
		Actions:       t.actions,
		Confirmations: t.confirmations,
	}
}

func (t *testRepos) tx() *fakeTx {
	return &fakeTx{repos: t.repos()}
}

// --- Mock JobSubmitter ---

type mockSubmitter struct {
	jobs     []extractor.JobRequest
	submitFn func(ctx context.Context, job extractor.JobRequest) (*extractor.JobAccepted, error)
}

func (m *mockSubmitter) Submit(ctx context.Context, job extractor.JobRequest) (*extractor.JobAccepted, error) {
	m.jobs = append(m.jobs, job)
	if m.submitFn != nil {
		return m.submitFn(ctx, job)
	}
	return &extractor.JobAccepted{JobID: "job-1"}, nil
}

// --- Mock AudioStore ---

type mockAudioStore struct {
	saveFn  func(reader io.Reader, filename, ownerID string) (*audiostore.SaveResult, error)
	statFn  func(path string) (int64, error)
	deleted []string
}

func (m *mockAudioStore) Save(reader io.Reader, filename, ownerID string) (*audiostore.SaveResult, error) {
	if m.saveFn != nil {
		return m.saveFn(reader, filename, ownerID)
	}
	n, err := io.Copy(io.Discard, reader)
	if err != nil {
		return nil, err
	}
	return &audiostore.SaveResult{StoragePath: ownerID + "/2026/10/" + filename, Size: n, Checksum: "abc"}, nil
}

func (m *mockAudioStore) Stat(path string) (int64, error) {
	if m.statFn != nil {
		return m.statFn(path)
	}
	return 1024, nil
}

func (m *mockAudioStore) Delete(path string) error {
	m.deleted = append(m.deleted, path)
	return nil
}
