// Package adapter 平台客户端的工厂注册表与共享请求流水线
package adapter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"SocialSync/internal/config"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
	"SocialSync/internal/proxy"
)

// Deps 构造平台客户端所需的依赖
type Deps struct {
	Config   config.PlatformConfig
	Provider interfaces.SessionProvider // 可为空：只做匿名请求
	Signer   interfaces.Signer          // 可为空：按 Config.SignScript 决定
	Pool     *proxy.Pool                // 可为空：不走代理池
	Logger   *logrus.Logger
}

// Factory 平台客户端工厂函数
type Factory func(deps Deps) (interfaces.PlatformClient, error)

// ========== 全局工厂函数注册表 ==========
var (
	factoryMu       sync.RWMutex
	factoryRegistry = make(map[model.PlatformType]Factory)
)

// Register 供平台包 init 函数调用，注册工厂函数
func Register(platform model.PlatformType, factory Factory) {
	if factory == nil {
		panic(fmt.Sprintf("平台%s的工厂函数不能为nil", platform))
	}
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, exists := factoryRegistry[platform]; exists {
		logrus.Warnf("平台%s的客户端已注册，将覆盖原有实现", platform)
	}
	factoryRegistry[platform] = factory
}

// GetFactory 获取指定平台的工厂函数
func GetFactory(platform model.PlatformType) (Factory, bool) {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	factory, ok := factoryRegistry[platform]
	return factory, ok
}

// ListFactories 列出所有已注册的平台（有序）
func ListFactories() []model.PlatformType {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	platforms := make([]model.PlatformType, 0, len(factoryRegistry))
	for p := range factoryRegistry {
		platforms = append(platforms, p)
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i] < platforms[j] })
	return platforms
}

// cookieDomains 各平台 cookie 所在的主域
var cookieDomains = map[model.PlatformType]string{
	model.PlatformXHS:      "xiaohongshu.com",
	model.PlatformDouyin:   "douyin.com",
	model.PlatformBilibili: "bilibili.com",
	model.PlatformWeibo:    "weibo.cn",
	model.PlatformKuaishou: "kuaishou.com",
}

// CookieDomain 平台 cookie 主域
func CookieDomain(p model.PlatformType) string {
	return cookieDomains[p]
}
