package querylog

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pulsetel/simhub/internal/models"
	"github.com/pulsetel/simhub/pkg/logctx"
	"github.com/pulsetel/simhub/pkg/tool"
)

// Recorder persists reconciliation query history off the request path.
type Recorder interface {
	Record(ctx context.Context, entry *models.ESIMQueryLog)
}

type recorder struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func New(db *gorm.DB, log *zap.SugaredLogger) Recorder { return &recorder{db: db, log: log} }

// Record asynchronously persists a query log entry. Nil input is ignored.
// Write failures are logged and dropped; query history is advisory and
// must never fail a lookup.
func (r *recorder) Record(ctx context.Context, entry *models.ESIMQueryLog) {
	go func() {
		if entry == nil {
			return
		}
		if entry.ID == "" {
			entry.ID = tool.GenerateUUIDV7()
		}
		if err := r.db.Create(entry).Error; err != nil {
			logctx.FromCtx(ctx, r.log).Errorf("failed to save esim query log: %v", err)
		}
	}()
}

// Module exposes the query log recorder via Fx.
var Module = fx.Options(fx.Provide(New))
