package model

import "github.com/rotisserie/eris"

// SubmissionMethod describes how a contractor submits a permit application.
type SubmissionMethod string

const (
	SubmissionOnline      SubmissionMethod = "online"
	SubmissionOfflineOnly SubmissionMethod = "offline_only"
	SubmissionUnknown     SubmissionMethod = "unknown"
)

// Valid reports whether m is one of the known submission methods.
func (m SubmissionMethod) Valid() bool {
	switch m {
	case SubmissionOnline, SubmissionOfflineOnly, SubmissionUnknown:
		return true
	}
	return false
}

// ParseSubmissionMethod converts a persisted string into a SubmissionMethod.
func ParseSubmissionMethod(s string) (SubmissionMethod, error) {
	m := SubmissionMethod(s)
	if !m.Valid() {
		return "", eris.Errorf("model: unknown submission method %q", s)
	}
	return m, nil
}

// SourceTier identifies the discovery strategy that produced a candidate.
type SourceTier string

const (
	SourceCache   SourceTier = "cache"
	SourceOffline SourceTier = "offline"
	SourceAIMini  SourceTier = "ai-mini"
	SourceAIFull  SourceTier = "ai-full"
	SourceSearch  SourceTier = "search"
)

// Valid reports whether t is a known source tier.
func (t SourceTier) Valid() bool {
	switch t {
	case SourceCache, SourceOffline, SourceAIMini, SourceAIFull, SourceSearch:
		return true
	}
	return false
}

// ResolutionTier is the terminal state reached by an interactive resolution run.
type ResolutionTier string

const (
	ResolvedCache     ResolutionTier = "cache"
	ResolvedOffline   ResolutionTier = "offline"
	ResolvedCheap     ResolutionTier = "cheap"
	ResolvedExpensive ResolutionTier = "expensive"
	ResolvedNone      ResolutionTier = "none"
)

// Valid reports whether t is a known resolution tier.
func (t ResolutionTier) Valid() bool {
	switch t {
	case ResolvedCache, ResolvedOffline, ResolvedCheap, ResolvedExpensive, ResolvedNone:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a DiscoveryJob.
type JobStatus string

const (
	JobPending JobStatus = "pending"
	JobRunning JobStatus = "running"
	JobDone    JobStatus = "done"
	JobError   JobStatus = "error"
)

// Valid reports whether s is a known job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobRunning, JobDone, JobError:
		return true
	}
	return false
}

// ParseJobStatus converts a persisted string into a JobStatus.
func ParseJobStatus(s string) (JobStatus, error) {
	st := JobStatus(s)
	if !st.Valid() {
		return "", eris.Errorf("model: unknown job status %q", s)
	}
	return st, nil
}

// CanTransition reports whether a job may move from s to next.
// Error jobs may be picked again; done jobs only return to pending on requeue.
func (s JobStatus) CanTransition(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobRunning
	case JobRunning:
		return next == JobDone || next == JobError
	case JobError:
		return next == JobRunning || next == JobPending
	case JobDone:
		return next == JobPending
	}
	return false
}

// EndpointStatus is the crawl state of a PortalEndpoint.
type EndpointStatus string

const (
	EndpointUnknown EndpointStatus = "unknown"
	EndpointCrawled EndpointStatus = "crawled"
	EndpointError   EndpointStatus = "error"
)

// Valid reports whether s is a known endpoint status.
func (s EndpointStatus) Valid() bool {
	switch s {
	case EndpointUnknown, EndpointCrawled, EndpointError:
		return true
	}
	return false
}

// ParseEndpointStatus converts a persisted string into an EndpointStatus.
func ParseEndpointStatus(s string) (EndpointStatus, error) {
	st := EndpointStatus(s)
	if !st.Valid() {
		return "", eris.Errorf("model: unknown endpoint status %q", s)
	}
	return st, nil
}

// CanTransition reports whether an endpoint may move from s to next.
// Every crawl attempt ends in crawled or error, including recrawls of a
// stale or failed endpoint. Only crawled and errored endpoints can be reset
// to unknown.
func (s EndpointStatus) CanTransition(next EndpointStatus) bool {
	switch s {
	case EndpointUnknown:
		return next == EndpointCrawled || next == EndpointError
	case EndpointCrawled, EndpointError:
		return next.Valid()
	}
	return false
}

// Level is the administrative level of a jurisdiction.
type Level string

const (
	LevelState  Level = "state"
	LevelCounty Level = "county"
	LevelPlace  Level = "place"
)

// Valid reports whether l is a known administrative level.
func (l Level) Valid() bool {
	switch l {
	case LevelState, LevelCounty, LevelPlace:
		return true
	}
	return false
}
