package scheduler

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edupass/internal/events"
	sessiondomain "github.com/smallbiznis/edupass/internal/groupsession/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type staleSession struct {
	ID      snowflake.ID
	GroupID snowflake.ID
	Status  sessiondomain.Status
}

// CompleteStaleSessionsJob closes sessions left open from previous days.
// Sessions that were started become completed; sessions that never started
// are cancelled.
func (s *Scheduler) CompleteStaleSessionsJob(ctx context.Context, run *jobRun) error {
	now := s.clock.Now()
	today := now.Format(sessiondomain.DateLayout)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var batch []staleSession
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Raw(
				`SELECT id, group_id, status
				 FROM group_sessions
				 WHERE status IN (?, ?)
				   AND session_date < ?
				 ORDER BY session_date ASC, id ASC
				 LIMIT ?
				 FOR UPDATE SKIP LOCKED`,
				sessiondomain.StatusScheduled,
				sessiondomain.StatusActive,
				today,
				s.cfg.BatchSize,
			).Scan(&batch).Error; err != nil {
				return err
			}

			for _, sess := range batch {
				next := closedStatus(sess.Status)
				if err := tx.Exec(
					`UPDATE group_sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
					next, now, sess.ID, sess.Status,
				).Error; err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		run.AddProcessed(len(batch))
		for _, sess := range batch {
			s.publish(ctx, events.New("session."+string(closedStatus(sess.Status)), now, map[string]any{
				"group_session_id": sess.ID.String(),
				"group_id":         sess.GroupID.String(),
				"reason":           "stale",
			}))
		}
		if len(batch) < s.cfg.BatchSize {
			return nil
		}
	}
}

func closedStatus(status sessiondomain.Status) sessiondomain.Status {
	if status == sessiondomain.StatusActive {
		return sessiondomain.StatusCompleted
	}
	return sessiondomain.StatusCancelled
}

// PruneStudentTokensJob deletes unused student tokens once they have been
// expired longer than the retention window. Used tokens stay because
// attendance records reference them.
func (s *Scheduler) PruneStudentTokensJob(ctx context.Context, run *jobRun) error {
	cutoff := s.clock.Now().Add(-s.cfg.TokenRetention)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var deleted int64
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var ids []snowflake.ID
			if err := tx.Raw(
				`SELECT id
				 FROM student_tokens
				 WHERE used = ?
				   AND expires_at < ?
				 ORDER BY id ASC
				 LIMIT ?
				 FOR UPDATE SKIP LOCKED`,
				false,
				cutoff,
				s.cfg.BatchSize,
			).Scan(&ids).Error; err != nil {
				return err
			}
			if len(ids) == 0 {
				return nil
			}

			res := tx.Exec(`DELETE FROM student_tokens WHERE id IN ? AND used = ?`, ids, false)
			if res.Error != nil {
				return res.Error
			}
			deleted = res.RowsAffected
			return nil
		})
		if err != nil {
			return err
		}

		run.AddProcessed(int(deleted))
		if deleted < int64(s.cfg.BatchSize) {
			return nil
		}
	}
}

func (s *Scheduler) publish(ctx context.Context, evt events.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), evt); err != nil && !errors.Is(err, context.Canceled) {
		s.logger(ctx).Warn("publish event failed", zap.String("type", evt.Type), zap.Error(err))
	}
}
