package chat

import "fmt"

// Each chat position holds at most one job id; a job id is held by at most
// one chat. Ids below NoJob are placeholders from ClaimJob.

// ClaimJob reserves the job slot of the named chat for a job that is about
// to start and returns a placeholder id for it. It fails with
// [ErrJobRunning] when the chat already holds a job or a claim. Hand the
// placeholder to [Store.ReplaceJobID] once the job has its real id, or to
// [Store.RemoveJobID] to give the slot up.
func (s *Store) ClaimJob(chatName string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byName[chatName]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrChatNotFound, chatName)
	}
	if s.jobLocked(pos) != NoJob {
		return 0, fmt.Errorf("%w: %q", ErrJobRunning, chatName)
	}
	if s.claims >= NoJob {
		s.claims = NoJob
	}
	s.claims--
	s.jobs[pos] = s.claims
	return s.claims, nil
}

// ReplaceJobID moves whichever chat holds oldID over to newID and reports
// whether one did. The chat may have been renamed or moved meanwhile.
func (s *Store) ReplaceJobID(oldID, newID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p, j := range s.jobs {
		if j == oldID {
			s.setJobLocked(p, newID)
			return true
		}
	}
	return false
}

// SetCurrentJobID associates jobID with the current chat, replacing any
// previous job of that chat. [NoJob] clears the association.
func (s *Store) SetCurrentJobID(jobID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current < 0 {
		return ErrNoCurrentChat
	}
	s.setJobLocked(s.current, jobID)
	return nil
}

// SetJobID associates jobID with the named chat.
func (s *Store) SetJobID(chatName string, jobID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byName[chatName]
	if !ok {
		return fmt.Errorf("%w: %q", ErrChatNotFound, chatName)
	}
	s.setJobLocked(pos, jobID)
	return nil
}

func (s *Store) setJobLocked(pos, jobID int) {
	if jobID == NoJob {
		delete(s.jobs, pos)
		return
	}
	for p, j := range s.jobs {
		if j == jobID {
			delete(s.jobs, p)
		}
	}
	s.jobs[pos] = jobID
}

// RemoveJobID clears jobID from whichever chat holds it and reports whether
// one did.
func (s *Store) RemoveJobID(jobID int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p, j := range s.jobs {
		if j == jobID {
			delete(s.jobs, p)
			return true
		}
	}
	return false
}

// CurrentJobID returns the job of the current chat, or [NoJob].
func (s *Store) CurrentJobID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobLocked(s.current)
}

// JobID returns the job of the named chat, or [NoJob] if it has none or
// does not exist.
func (s *Store) JobID(chatName string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.byName[chatName]
	if !ok {
		return NoJob
	}
	return s.jobLocked(pos)
}

func (s *Store) jobLocked(pos int) int {
	if j, ok := s.jobs[pos]; ok {
		return j
	}
	return NoJob
}

// ChatNameByJobID returns the name of the chat that jobID streams into.
func (s *Store) ChatNameByJobID(jobID int) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for p, j := range s.jobs {
		if j == jobID {
			return s.chats[p].Name, nil
		}
	}
	return "", fmt.Errorf("%w: no chat for job %d", ErrChatNotFound, jobID)
}
