package db

import "time"

type BaseTable struct {
	Id          int
	UpdatedTime time.Time `gorm:"autoUpdateTime"`
	CreatedTime time.Time `gorm:"autoCreateTime"`
}

type ConfigTable struct {
	Name  string `gorm:"size:191;uniqueIndex"`
	Value string

	BaseTable
}

func (ConfigTable) TableName() string {
	return "config"
}

// PendingTask is a cross-chain message some member chain has not confirmed yet.
type PendingTask struct {
	Digest      string `gorm:"size:64;uniqueIndex"`
	Sender      string
	Nonce       uint64
	AssetId     string
	OriginChain string

	BaseTable
}

func (PendingTask) TableName() string {
	return "pending_task"
}

type PendingTaskMember struct {
	Digest          string `gorm:"size:64;index"`
	Chain           string
	ContractAddress string
	Pending         bool
	Height          uint64

	BaseTable
}

func (PendingTaskMember) TableName() string {
	return "pending_task_member"
}
