package service

import (
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"
)

type agentShard struct {
	agents map[uint]Agent
	mu     sync.RWMutex
}

// AgentRegistry 按用户分片保存存活的 Agent，同一用户并发创建只执行一次
type AgentRegistry struct {
	shards [shardCount]*agentShard
	group  singleflight.Group
}

func NewAgentRegistry() *AgentRegistry {
	r := &AgentRegistry{}
	for i := 0; i < shardCount; i++ {
		r.shards[i] = &agentShard{agents: make(map[uint]Agent)}
	}
	return r
}

func (r *AgentRegistry) getShard(userID uint) *agentShard {
	return r.shards[userID%shardCount]
}

func (r *AgentRegistry) Get(userID uint) (Agent, bool) {
	s := r.getShard(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[userID]
	return agent, ok
}

// GetOrCreate create 只会在该用户没有 Agent 时被调用一次；created 表示本次调用是否新建
func (r *AgentRegistry) GetOrCreate(userID uint, create func() (Agent, error)) (agent Agent, created bool, err error) {
	if agent, ok := r.Get(userID); ok {
		return agent, false, nil
	}

	made := false
	v, err, _ := r.group.Do(strconv.FormatUint(uint64(userID), 10), func() (interface{}, error) {
		if agent, ok := r.Get(userID); ok {
			return agent, nil
		}
		agent, err := create()
		if err != nil {
			return nil, err
		}
		s := r.getShard(userID)
		s.mu.Lock()
		s.agents[userID] = agent
		s.mu.Unlock()
		made = true
		return agent, nil
	})
	if err != nil {
		return nil, false, err
	}
	return v.(Agent), made, nil
}

// Remove 只有当前登记的仍是 agent 时才删除
func (r *AgentRegistry) Remove(userID uint, agent Agent) bool {
	s := r.getShard(userID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.agents[userID]; ok && (agent == nil || current == agent) {
		delete(s.agents, userID)
		return true
	}
	return false
}

func (r *AgentRegistry) Len() int {
	n := 0
	for _, s := range r.shards {
		s.mu.RLock()
		n += len(s.agents)
		s.mu.RUnlock()
	}
	return n
}

// Range 遍历快照，fn 返回 false 时停止
func (r *AgentRegistry) Range(fn func(userID uint, agent Agent) bool) {
	for _, s := range r.shards {
		s.mu.RLock()
		snapshot := make(map[uint]Agent, len(s.agents))
		for id, a := range s.agents {
			snapshot[id] = a
		}
		s.mu.RUnlock()
		for id, a := range snapshot {
			if !fn(id, a) {
				return
			}
		}
	}
}
