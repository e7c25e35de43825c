package store

import (
	"gorm.io/gorm"
)

type SortOrder int

const (
	Unsorted SortOrder = iota
	SortByID
	SortByCreatedTime
	SortByUpdatedTime
)

type BaseQuerier struct {
	QueryFn []func(tx *gorm.DB) *gorm.DB
}

type DocumentQueryFilter BaseQuerier

func NewDocumentQueryFilter() *DocumentQueryFilter {
	return &DocumentQueryFilter{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (qf *DocumentQueryFilter) ByOwnerID(ownerID string) *DocumentQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("owner_id = ?", ownerID)
	})
	return qf
}

func (qf *DocumentQueryFilter) ByStatus(status string) *DocumentQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("status = ?", status)
	})
	return qf
}

func (qf *DocumentQueryFilter) ByKind(kind string) *DocumentQueryFilter {
	qf.QueryFn = append(qf.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("kind = ?", kind)
	})
	return qf
}

type DocumentQueryOptions BaseQuerier

func NewDocumentQueryOptions() *DocumentQueryOptions {
	return &DocumentQueryOptions{QueryFn: make([]func(tx *gorm.DB) *gorm.DB, 0)}
}

func (o *DocumentQueryOptions) WithSortOrder(sort SortOrder) *DocumentQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		switch sort {
		case SortByID:
			return tx.Order("id")
		case SortByUpdatedTime:
			return tx.Order("updated_at")
		case SortByCreatedTime:
			return tx.Order("created_at")
		default:
			return tx
		}
	})
	return o
}

func (o *DocumentQueryOptions) WithLimit(limit int) *DocumentQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Limit(limit)
	})
	return o
}

func (o *DocumentQueryOptions) WithOffset(offset int) *DocumentQueryOptions {
	o.QueryFn = append(o.QueryFn, func(tx *gorm.DB) *gorm.DB {
		return tx.Offset(offset)
	})
	return o
}
