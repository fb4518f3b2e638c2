package testutil

import (
	"context"
	"fmt"
	"sync"

	"fedipost/internal/model"
	"fedipost/internal/pipeline"
)

// FakeRemoteFetcher serves canned remote notes and pages keyed by id.
// Unknown ids and ids listed in Fail return an error, like a dead remote.
type FakeRemoteFetcher struct {
	mu    sync.Mutex
	Notes map[string]*model.RemoteNote
	Pages map[string]*model.RemotePage
	Fail  map[string]bool

	// FetchedNotes records every note id requested, in order.
	FetchedNotes []string
}

func NewFakeRemoteFetcher() *FakeRemoteFetcher {
	return &FakeRemoteFetcher{
		Notes: make(map[string]*model.RemoteNote),
		Pages: make(map[string]*model.RemotePage),
		Fail:  make(map[string]bool),
	}
}

func (f *FakeRemoteFetcher) FetchNote(_ context.Context, _ *model.User, remoteID string) (*model.RemoteNote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FetchedNotes = append(f.FetchedNotes, remoteID)
	if f.Fail[remoteID] {
		return nil, fmt.Errorf("fetch failed for %s", remoteID)
	}
	note, ok := f.Notes[remoteID]
	if !ok {
		return nil, fmt.Errorf("no such remote post: %s", remoteID)
	}
	return note, nil
}

func (f *FakeRemoteFetcher) FetchPage(_ context.Context, _ *model.User, pageID string) (*model.RemotePage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail[pageID] {
		return nil, fmt.Errorf("fetch failed for %s", pageID)
	}
	page, ok := f.Pages[pageID]
	if !ok {
		return nil, fmt.Errorf("no such page: %s", pageID)
	}
	return page, nil
}

// FakeAltThreadFetcher records the thread URIs it was asked to fetch.
type FakeAltThreadFetcher struct {
	mu      sync.Mutex
	Threads []string
	Err     error
}

func (f *FakeAltThreadFetcher) FetchThread(_ context.Context, threadURI string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Threads = append(f.Threads, threadURI)
	return f.Err
}

// RecordingQueue captures enqueued jobs keyed by job id.
type RecordingQueue struct {
	mu   sync.Mutex
	Jobs map[string]pipeline.OutboundJob
	Err  error
}

func NewRecordingQueue() *RecordingQueue {
	return &RecordingQueue{Jobs: make(map[string]pipeline.OutboundJob)}
}

func (q *RecordingQueue) Enqueue(_ context.Context, jobID string, job pipeline.OutboundJob) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.Err != nil {
		return q.Err
	}
	q.Jobs[jobID] = job
	return nil
}

// RecordingEditFederator captures the posts whose edits were federated.
type RecordingEditFederator struct {
	mu    sync.Mutex
	Posts []*model.Post
	Err   error
}

func (f *RecordingEditFederator) PostEdited(_ context.Context, post *model.Post) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.Posts = append(f.Posts, post)
	return nil
}
