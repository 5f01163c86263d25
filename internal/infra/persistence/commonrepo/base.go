package commonrepo

import (
	"time"

	"github.com/yitter/idgenerator-go/idgen"
	"gorm.io/gorm"
)

// NextID 生成雪花ID, 测试中可替换
var NextID = func() uint64 {
	return uint64(idgen.NextId())
}

type Mode struct {
	ID        uint64    `gorm:"primarykey;autoIncrement:false"`
	CreatedAt time.Time `gorm:"index;autoCreateTime"`
	UpdatedAt time.Time `gorm:"index;autoUpdateTime"`
}

// BeforeCreate assigns a snowflake id to rows created without one.
func (m *Mode) BeforeCreate(_ *gorm.DB) error {
	if m.ID == 0 {
		m.ID = NextID()
	}
	return nil
}
