package statistics

import (
	"context"
	"fmt"
	"sync"

	"github.com/samber/lo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pulsetel/simhub/internal/models"
	"github.com/pulsetel/simhub/pkg/types"
)

// Statistic types served by the admin dashboard
type StatisticType string

const (
	// Renewal order aggregates
	StatisticTypeOrdersByStatus    StatisticType = "orders_by_status"
	StatisticTypeDailyOrderCount   StatisticType = "daily_order_count"
	StatisticTypeRevenueByCurrency StatisticType = "revenue_by_currency"
	StatisticTypeDailyRevenue      StatisticType = "daily_revenue"

	// Lookup traffic aggregates
	StatisticTypeQueryVolume  StatisticType = "query_volume"
	StatisticTypeCacheHitRate StatisticType = "cache_hit_rate"

	// Today/total headline counters
	StatisticTypeSummary StatisticType = "summary"
)

var allStatisticTypes = []StatisticType{
	StatisticTypeOrdersByStatus,
	StatisticTypeDailyOrderCount,
	StatisticTypeRevenueByCurrency,
	StatisticTypeDailyRevenue,
	StatisticTypeQueryVolume,
	StatisticTypeCacheHitRate,
	StatisticTypeSummary,
}

// ParseType validates a statistic type coming from the query string.
func ParseType(s string) (StatisticType, bool) {
	t := StatisticType(s)
	return t, lo.Contains(allStatisticTypes, t)
}

// AllDataItems requests every known statistic, the default when the caller
// names none.
func AllDataItems() []*StatisticDataItem {
	return lo.Map(allStatisticTypes, func(t StatisticType, _ int) *StatisticDataItem {
		return &StatisticDataItem{ID: t}
	})
}

// Filter fields supported by certain statistic types
type StatisticFilterType string

const (
	StatisticFilterTypeProvider StatisticFilterType = "provider"
	StatisticFilterTypeCaptured StatisticFilterType = "captured"
)

var filterTypes = []StatisticFilterType{
	StatisticFilterTypeProvider,
	StatisticFilterTypeCaptured,
}

var validFilters = map[StatisticFilterType][]StatisticType{
	StatisticFilterTypeProvider: {StatisticTypeOrdersByStatus, StatisticTypeDailyOrderCount, StatisticTypeRevenueByCurrency, StatisticTypeDailyRevenue},
	StatisticFilterTypeCaptured: {StatisticTypeOrdersByStatus, StatisticTypeDailyOrderCount},
}

// capturedStatuses are the order states whose payment has been collected.
// Revenue aggregates count exactly these.
var capturedStatuses = []types.OrderStatus{
	types.OrderStatusPaid,
	types.OrderStatusCompleted,
	types.OrderStatusProviderFailed,
}

type StatisticDataItem struct {
	ID StatisticType `json:"id"`
}

type StatisticRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	DataItems []*StatisticDataItem  `json:"data_items"`
}

func (f *StatisticRequest) GetFilters(statisticType StatisticType) *StatisticRequest {
	if f == nil || len(f.Filters) == 0 {
		return f
	}
	var result StatisticRequest
	for _, filter := range f.Filters {
		if statisticTypes, ok := validFilters[StatisticFilterType(filter.Field)]; ok {
			if lo.Contains(statisticTypes, statisticType) {
				result.Filters = append(result.Filters, filter)
			}
		} else {
			result.Filters = append(result.Filters, filter)
		}
	}
	return &result
}

// Build composes a WHERE clause based on provided filters, with custom
// handling for the captured pseudo-field.
func (f *StatisticRequest) Build(builder clause.Builder) {
	if f == nil || len(f.Filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	for i, filter := range f.Filters {
		if i > 0 {
			builder.WriteString(" AND ")
		}
		switch filter.Field {
		case string(StatisticFilterTypeCaptured):
			if len(filter.Values) > 0 && fmt.Sprint(filter.Values[0]) == "true" {
				builder.WriteString("status IN ('PAID', 'COMPLETED', 'PROVIDER_FAILED')")
			} else {
				builder.WriteString("status NOT IN ('PAID', 'COMPLETED', 'PROVIDER_FAILED')")
			}
		default:
			filter.Build(builder)
		}
	}
}

type StatisticResponseDataItem struct {
	Date   string `json:"date,omitempty"`
	Label  string `json:"label,omitempty"`
	Value  int64  `json:"value"`
	Value2 int64  `json:"value2,omitempty"`
	Value3 int64  `json:"value3,omitempty"`
}

type StatisticResponse struct {
	DataItems map[StatisticType][]StatisticResponseDataItem `json:"data_items"`
}

// Service provides statistics operations
type Service struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Service { return &Service{db: db} }

func (s *Service) getOrdersByStatus(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.RenewalOrder{}).TableName()).
		Select("status AS label, count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(StatisticTypeOrdersByStatus)}}).
		Group("status").
		Order("label")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyOrderCount(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.RenewalOrder{}).TableName()).
		Select("TO_CHAR(created_at, 'YYYY-MM-DD') as date, count(*) as value").
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(StatisticTypeDailyOrderCount)}}).
		Group("TO_CHAR(created_at, 'YYYY-MM-DD')").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true})
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getRevenueByCurrency(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.RenewalOrder{}).TableName()).
		Select("currency AS label, sum(amount_cents) as value").
		Where("status IN ?", capturedStatuses).
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(StatisticTypeRevenueByCurrency)}}).
		Group("currency").
		Order("label")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getDailyRevenue(ctx context.Context, request *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.RenewalOrder{}).TableName()).
		Select("TO_CHAR(created_at, 'YYYY-MM-DD') as date, currency AS label, sum(amount_cents) as value").
		Where("status IN ?", capturedStatuses).
		Where(clause.Where{Exprs: []clause.Expression{request.GetFilters(StatisticTypeDailyRevenue)}}).
		Group("TO_CHAR(created_at, 'YYYY-MM-DD')").
		Group("currency").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true})
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getQueryVolume(ctx context.Context, _ *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	q := s.db.WithContext(ctx).Table((models.ESIMQueryLog{}).TableName()).
		Select("TO_CHAR(created_at, 'YYYY-MM-DD') as date, count(*) as value, count(*) FILTER (WHERE cache_hit) as value2, count(*) FILTER (WHERE found) as value3").
		Group("TO_CHAR(created_at, 'YYYY-MM-DD')").
		Order(clause.OrderByColumn{Column: clause.Column{Name: "date"}, Desc: true})
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getCacheHitRate(ctx context.Context, _ *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	sql := `
WITH daily AS (
  SELECT TO_CHAR(created_at, 'YYYY-MM-DD') as date,
         COUNT(*) as total,
         COUNT(*) FILTER (WHERE cache_hit) as hits
  FROM esim_query_log
  GROUP BY TO_CHAR(created_at, 'YYYY-MM-DD')
)
SELECT date,
  CASE WHEN total = 0 THEN 0
       ELSE CAST(ROUND(hits * 100.0 / total, 2) * 100 AS INTEGER)
  END as value,
  total as value2,
  hits as value3
FROM daily
ORDER BY date DESC`
	if err := s.db.WithContext(ctx).Raw(sql).Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getSummary(ctx context.Context, _ *StatisticRequest) ([]StatisticResponseDataItem, error) {
	var results []StatisticResponseDataItem
	sql := `
SELECT 'orders_today' as label, COUNT(*) as value FROM renewal_order WHERE created_at >= CURRENT_DATE
UNION ALL SELECT 'orders_total' as label, COUNT(*) as value FROM renewal_order
UNION ALL SELECT 'completed_today' as label, COUNT(*) as value FROM renewal_order WHERE status = 'COMPLETED' AND created_at >= CURRENT_DATE
UNION ALL SELECT 'completed_total' as label, COUNT(*) as value FROM renewal_order WHERE status = 'COMPLETED'
UNION ALL SELECT 'provider_failed_open' as label, COUNT(*) as value FROM renewal_order WHERE status = 'PROVIDER_FAILED'
UNION ALL SELECT 'queries_today' as label, COUNT(*) as value FROM esim_query_log WHERE created_at >= CURRENT_DATE
UNION ALL SELECT 'queries_total' as label, COUNT(*) as value FROM esim_query_log`
	if err := s.db.WithContext(ctx).Raw(sql).Scan(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *Service) getStatistic(ctx context.Context, request *StatisticRequest, dataItem *StatisticDataItem) ([]StatisticResponseDataItem, error) {
	switch dataItem.ID {
	case StatisticTypeOrdersByStatus:
		return s.getOrdersByStatus(ctx, request)
	case StatisticTypeDailyOrderCount:
		return s.getDailyOrderCount(ctx, request)
	case StatisticTypeRevenueByCurrency:
		return s.getRevenueByCurrency(ctx, request)
	case StatisticTypeDailyRevenue:
		return s.getDailyRevenue(ctx, request)
	case StatisticTypeQueryVolume:
		return s.getQueryVolume(ctx, request)
	case StatisticTypeCacheHitRate:
		return s.getCacheHitRate(ctx, request)
	case StatisticTypeSummary:
		return s.getSummary(ctx, request)
	default:
		return nil, fmt.Errorf("invalid data item id: %s", dataItem.ID)
	}
}

func (s *Service) GetStatistics(ctx context.Context, request *StatisticRequest) (*StatisticResponse, error) {
	var wg sync.WaitGroup
	errChan := make(chan error, len(request.DataItems))
	resChan := make(chan *lo.Entry[StatisticType, []StatisticResponseDataItem], len(request.DataItems))

	for _, item := range request.DataItems {
		wg.Add(1)
		go func(di *StatisticDataItem) {
			defer wg.Done()
			// check filter applicability
			for _, filter := range request.Filters {
				ft := StatisticFilterType(filter.Field)
				if lo.Contains(filterTypes, ft) && !lo.Contains(validFilters[ft], di.ID) {
					resChan <- &lo.Entry[StatisticType, []StatisticResponseDataItem]{Key: di.ID, Value: nil}
					return
				}
			}
			res, err := s.getStatistic(ctx, request, di)
			if err != nil {
				errChan <- err
				return
			}
			resChan <- &lo.Entry[StatisticType, []StatisticResponseDataItem]{Key: di.ID, Value: res}
		}(item)
	}

	go func() { wg.Wait(); close(errChan); close(resChan) }()

	results := make(map[StatisticType][]StatisticResponseDataItem)
	for i := 0; i < len(request.DataItems); i++ {
		select {
		case err := <-errChan:
			if err != nil {
				return nil, err
			}
		case entry := <-resChan:
			results[entry.Key] = entry.Value
		}
	}
	return &StatisticResponse{DataItems: results}, nil
}
