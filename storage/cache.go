package storage

import (
	"context"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

type backend interface {
	GetTask(ctx context.Context, owner string, id int64) (domain.Task, error)
	ListTasks(ctx context.Context, owner string) ([]domain.Task, error)
	CreateTask(ctx context.Context, owner string, task domain.Task) (int64, error)
	UpdateTask(ctx context.Context, owner string, id int64, fields domain.TaskFields, version string) (domain.WriteResult, error)
	DeleteTask(ctx context.Context, owner string, id int64) (domain.WriteResult, error)
	PublishChange(ctx context.Context, env domain.ChangeEnvelope) error
}

// TaskUpdate is published on the updates channel after every applied write.
type TaskUpdate struct {
	UserID string `json:"userId"`
	TaskID int64  `json:"taskId"`
}

// Cache wraps a backend with Redis-backed caching for task reads. Writes
// evict the owner's entries and announce the change on the updates channel.
type Cache struct {
	base    backend
	redis   *redis.Client
	ttl     time.Duration
	channel string
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
// An empty channel disables update announcements.
func NewCache(base backend, client *redis.Client, ttl time.Duration, channel string) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl, channel: channel}
}

func (c *Cache) GetTask(ctx context.Context, owner string, id int64) (domain.Task, error) {
	key := taskCacheKey(owner, id)
	var task domain.Task
	if c.load(ctx, key, &task) {
		task.Owner = owner
		return task, nil
	}

	task, err := c.base.GetTask(ctx, owner, id)
	if err != nil {
		return domain.Task{}, err
	}
	c.store(ctx, key, task)
	return task, nil
}

func (c *Cache) ListTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	key := tasksCacheKey(owner)
	var tasks []domain.Task
	if c.load(ctx, key, &tasks) {
		for i := range tasks {
			tasks[i].Owner = owner
		}
		return tasks, nil
	}

	tasks, err := c.base.ListTasks(ctx, owner)
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, tasks)
	return tasks, nil
}

func (c *Cache) CreateTask(ctx context.Context, owner string, task domain.Task) (int64, error) {
	id, err := c.base.CreateTask(ctx, owner, task)
	if err != nil {
		return 0, err
	}
	c.evict(ctx, owner, id)
	return id, nil
}

func (c *Cache) UpdateTask(ctx context.Context, owner string, id int64, fields domain.TaskFields, version string) (domain.WriteResult, error) {
	res, err := c.base.UpdateTask(ctx, owner, id, fields, version)
	if err != nil {
		return res, err
	}
	// A rejected conditional write means someone else changed the record.
	c.evict(ctx, owner, id)
	if res.OK() {
		c.announce(ctx, owner, id)
	}
	return res, nil
}

func (c *Cache) DeleteTask(ctx context.Context, owner string, id int64) (domain.WriteResult, error) {
	res, err := c.base.DeleteTask(ctx, owner, id)
	if err != nil {
		return res, err
	}
	c.evict(ctx, owner, id)
	if res.OK() {
		c.announce(ctx, owner, id)
	}
	return res, nil
}

// Invalidate drops the cached entries of a task and announces the change.
// It is used for writes applied outside this process.
func (c *Cache) Invalidate(ctx context.Context, owner string, id int64) {
	c.evict(ctx, owner, id)
	c.announce(ctx, owner, id)
}

func (c *Cache) PublishChange(ctx context.Context, env domain.ChangeEnvelope) error {
	return c.base.PublishChange(ctx, env)
}

func (c *Cache) load(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, owner string, id int64) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.Del(ctx, tasksCacheKey(owner), taskCacheKey(owner, id)).Result()
}

func (c *Cache) announce(ctx context.Context, owner string, id int64) {
	if c.redis == nil || c.channel == "" {
		return
	}
	payload, err := sonic.MarshalString(TaskUpdate{UserID: owner, TaskID: id})
	if err != nil {
		return
	}
	if err := c.redis.Publish(ctx, c.channel, payload).Err(); err != nil {
		log.WithError(err).WithFields(log.Fields{"user": owner, "task": id}).Error("unable to publish task update")
	}
}

func tasksCacheKey(owner string) string {
	return "tasks:" + owner
}

func taskCacheKey(owner string, id int64) string {
	return "task:" + owner + ":" + strconv.FormatInt(id, 10)
}
