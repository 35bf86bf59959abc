// 文件: pkg/ledger/mysql_repo.go
// 订单仓储 MySQL 实现
//
// 【设计】
// - GORM 作为 ORM，所有操作带 context
// - 幂等 upsert 用 clause.OnConflict (coid 冲突只更新可变字段)
// - ApplyFill 读取→校验→聚合→写入全程在 db.Transaction 内

package ledger

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 确保实现了接口
var _ OrderRepository = (*MySQLOrderRepository)(nil)

// MySQLOrderRepository MySQL 实现
type MySQLOrderRepository struct {
	db *gorm.DB
}

// NewMySQLOrderRepository 创建 MySQL 仓储
// 调用方负责 AutoMigrate(&Order{}, &Fill{})
func NewMySQLOrderRepository(db *gorm.DB) *MySQLOrderRepository {
	return &MySQLOrderRepository{db: db}
}

// UpsertPending coid 冲突时只刷新可变字段
func (r *MySQLOrderRepository) UpsertPending(ctx context.Context, o *Order) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "coid"}},
		DoUpdates: clause.AssignmentColumns([]string{"symbol", "side", "qty", "sl", "tp", "updated_ts"}),
	}).Create(o).Error
}

// UpsertAccepted coid 冲突时记录券商订单号与状态
func (r *MySQLOrderRepository) UpsertAccepted(ctx context.Context, o *Order) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "coid"}},
		DoUpdates: clause.AssignmentColumns([]string{"broker_order_id", "status", "sl", "tp", "updated_ts"}),
	}).Create(o).Error
}

// ApplyFill 成交明细插入与订单聚合更新在同一事务提交
func (r *MySQLOrderRepository) ApplyFill(ctx context.Context, coid string, fillQty, price float64, now int64) (*Order, error) {
	var updated *Order

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o Order
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("coid = ?", coid).
			First(&o).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrOrderNotFound
			}
			return err
		}

		if err := o.applyFill(fillQty, price, now); err != nil {
			return err
		}

		if err := tx.Create(&Fill{Coid: coid, Qty: fillQty, Price: price, Ts: now}).Error; err != nil {
			return err
		}

		if err := tx.Model(&Order{}).
			Where("coid = ?", coid).
			Updates(map[string]any{
				"filled_qty":     o.FilledQty,
				"avg_fill_price": o.AvgFillPrice,
				"status":         o.Status,
				"updated_ts":     now,
			}).Error; err != nil {
			return err
		}

		updated = &o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateStatus 状态迁移
func (r *MySQLOrderRepository) UpdateStatus(ctx context.Context, coid string, status OrderStatus, now int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&Order{}).
		Where("coid = ?", coid).
		Updates(map[string]any{
			"status":     status,
			"updated_ts": now,
		})
	return result.RowsAffected > 0, result.Error
}

// UpdateStops SL/TP 部分更新
func (r *MySQLOrderRepository) UpdateStops(ctx context.Context, coid string, sl, tp *float64, now int64) (bool, error) {
	updates := map[string]any{"updated_ts": now}
	if sl != nil {
		updates["sl"] = *sl
	}
	if tp != nil {
		updates["tp"] = *tp
	}

	result := r.db.WithContext(ctx).
		Model(&Order{}).
		Where("coid = ?", coid).
		Updates(updates)
	return result.RowsAffected > 0, result.Error
}

// Get 按 coid 查询
func (r *MySQLOrderRepository) Get(ctx context.Context, coid string) (*Order, error) {
	var o Order
	err := r.db.WithContext(ctx).Where("coid = ?", coid).First(&o).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &o, nil
}

// GetActive 非终态订单
func (r *MySQLOrderRepository) GetActive(ctx context.Context) ([]*Order, error) {
	var orders []*Order
	err := r.db.WithContext(ctx).
		Where("status NOT IN ?", TerminalStatuses).
		Order("created_ts").
		Find(&orders).Error
	return orders, err
}

// GetFills 成交明细
func (r *MySQLOrderRepository) GetFills(ctx context.Context, coid string) ([]*Fill, error) {
	var fills []*Fill
	err := r.db.WithContext(ctx).
		Where("coid = ?", coid).
		Order("ts").
		Find(&fills).Error
	return fills, err
}

// CountByStatus 按状态统计
func (r *MySQLOrderRepository) CountByStatus(ctx context.Context) (map[OrderStatus]int64, error) {
	type row struct {
		Status OrderStatus
		Cnt    int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&Order{}).
		Select("status, COUNT(*) AS cnt").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[OrderStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Cnt
	}
	return counts, nil
}

// DeleteTerminalBefore 分批删除过期终态订单
// 每批一个短事务: 先删成交明细再删订单，避免与在线查询抢锁
func (r *MySQLOrderRepository) DeleteTerminalBefore(ctx context.Context, cutoffTs int64, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 200
	}

	var total int64
	for {
		var coids []string
		err := r.db.WithContext(ctx).
			Model(&Order{}).
			Where("status IN ? AND updated_ts < ?", TerminalStatuses, cutoffTs).
			Limit(batchSize).
			Pluck("coid", &coids).Error
		if err != nil {
			return total, err
		}
		if len(coids) == 0 {
			return total, nil
		}

		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Where("coid IN ?", coids).Delete(&Fill{}).Error; err != nil {
				return err
			}
			return tx.Where("coid IN ?", coids).Delete(&Order{}).Error
		})
		if err != nil {
			return total, err
		}
		total += int64(len(coids))

		if len(coids) < batchSize {
			return total, nil
		}
	}
}
