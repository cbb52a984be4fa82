// Package permission 实现发说说/读说说的权限判断。
// 规则集为不可变快照，重新加载时整体原子替换。
package permission

import (
	"strings"
	"sync/atomic"

	"github.com/smallnest/maizone/config"
)

// Wildcard 表示所有人
const Wildcard = "*"

// Capability 权限类别
type Capability string

const (
	// CapabilityPost 发说说
	CapabilityPost Capability = "post"
	// CapabilityRead 读说说
	CapabilityRead Capability = "read"
)

// Identity 请求者身份
type Identity struct {
	ID       string
	Nickname string
}

// RuleSet 两个独立的允许列表
type RuleSet struct {
	Post []string
	Read []string
}

// FromConfig 从配置构建规则集
func FromConfig(cfg config.PermissionsConfig) RuleSet {
	return RuleSet{Post: cleanEntries(cfg.Post), Read: cleanEntries(cfg.Read)}
}

// cleanEntries 去掉条目两端空白，丢弃空条目
func cleanEntries(in []string) []string {
	out := make([]string, 0, len(in))
	for _, e := range in {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

// entries 返回某类权限的规则
func (r RuleSet) entries(capability Capability) []string {
	switch capability {
	case CapabilityPost:
		return r.Post
	case CapabilityRead:
		return r.Read
	default:
		return nil
	}
}

// Allows 纯函数判断，未命中任何规则即拒绝
func (r RuleSet) Allows(id Identity, capability Capability) bool {
	uid := strings.TrimSpace(id.ID)
	for _, entry := range r.entries(capability) {
		if entry == Wildcard {
			return true
		}
		if uid != "" && entry == uid {
			return true
		}
	}
	return false
}

// Filter 持有当前规则快照
type Filter struct {
	rules atomic.Pointer[RuleSet]
}

// NewFilter 创建权限过滤器
func NewFilter(rules RuleSet) *Filter {
	f := &Filter{}
	f.Replace(rules)
	return f
}

// IsAllowed 判断身份是否拥有某类权限
func (f *Filter) IsAllowed(id Identity, capability Capability) bool {
	rules := f.rules.Load()
	if rules == nil {
		return false
	}
	return rules.Allows(id, capability)
}

// Replace 原子替换整个规则快照
func (f *Filter) Replace(rules RuleSet) {
	snapshot := RuleSet{Post: cleanEntries(rules.Post), Read: cleanEntries(rules.Read)}
	f.rules.Store(&snapshot)
}

// Snapshot 返回当前规则的副本
func (f *Filter) Snapshot() RuleSet {
	rules := f.rules.Load()
	if rules == nil {
		return RuleSet{}
	}
	return RuleSet{
		Post: append([]string(nil), rules.Post...),
		Read: append([]string(nil), rules.Read...),
	}
}
