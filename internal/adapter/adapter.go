package adapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"SocialSync/internal/config"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
	"SocialSync/internal/proxy"
	"SocialSync/internal/session"
)

// PlatformRegistry 平台客户端实例表，首次使用时创建并完成登录
type PlatformRegistry struct {
	cfg      *config.Config
	provider interfaces.SessionProvider
	pool     *proxy.Pool
	logger   *logrus.Logger

	mu      sync.Mutex
	clients map[model.PlatformType]interfaces.PlatformClient
}

func NewPlatformRegistry(cfg *config.Config, provider interfaces.SessionProvider, pool *proxy.Pool, logger *logrus.Logger) *PlatformRegistry {
	logger.WithField("factory_platforms", ListFactories()).Info("已注册的平台工厂")
	return &PlatformRegistry{
		cfg:      cfg,
		provider: provider,
		pool:     pool,
		logger:   logger,
		clients:  make(map[model.PlatformType]interfaces.PlatformClient),
	}
}

// Client 获取平台客户端，不存在则创建
func (r *PlatformRegistry) Client(ctx context.Context, platform model.PlatformType) (interfaces.PlatformClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[platform]; ok {
		return c, nil
	}
	factory, ok := GetFactory(platform)
	if !ok {
		return nil, fmt.Errorf("平台%s未注册客户端（已注册：%v）", platform, ListFactories())
	}

	log := r.logger.WithField("platform", platform)
	if r.provider != nil && r.cfg.Crawler.Cookies != "" && model.LoginType(r.cfg.Crawler.LoginType) == model.LoginCookie {
		if err := session.LoginWithCookies(ctx, r.provider, r.cfg.Crawler.Cookies, CookieDomain(platform)); err != nil {
			return nil, fmt.Errorf("cookie 登录失败: %w", err)
		}
		log.Info("已注入登录 cookie")
	}

	client, err := factory(Deps{
		Config:   r.cfg.Platform(platform),
		Provider: r.provider,
		Pool:     r.pool,
		Logger:   r.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("创建平台%s客户端失败: %w", platform, err)
	}
	if client.Platform() != platform {
		return nil, fmt.Errorf("客户端平台类型不匹配: 期望%s 实际%s", platform, client.Platform())
	}
	if err := client.RefreshCookies(ctx); err != nil {
		log.WithError(err).Warn("读取登录态失败，继续以匿名身份请求")
	}
	r.clients[platform] = client
	log.Info("平台客户端初始化成功")
	return client, nil
}

// Set 直接放入客户端实例（测试或外部构造时使用）
func (r *PlatformRegistry) Set(client interfaces.PlatformClient) {
	r.mu.Lock()
	r.clients[client.Platform()] = client
	r.mu.Unlock()
}

// ListRegisteredPlatforms 已初始化的平台
func (r *PlatformRegistry) ListRegisteredPlatforms() []model.PlatformType {
	r.mu.Lock()
	defer r.mu.Unlock()
	platforms := make([]model.PlatformType, 0, len(r.clients))
	for p := range r.clients {
		platforms = append(platforms, p)
	}
	return platforms
}
