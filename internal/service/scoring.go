package service

import (
	"errors"
	"math"

	"stagekeeper/internal/model"
)

var errEmptyPool = errors.New("奖池为空")

// RankScorer 默认计分：Borda 计数
//
// 长度为 n 的排名中第 i 位（从 0 起）得 n-i 分。小组排名计入小组，
// 投票人所在小组不计分；评论排名计入作者，投票人本人不计分。
// 奖池按 GroupShare 切分给小组与评论作者，任一侧无得分时整池归另一侧；
// 各侧按得分占比分配，金额向下取整到 4 位小数，保证总额不超过奖池。
type RankScorer struct {
	GroupShare float64
}

// NewRankScorer 小组与评论作者各占一半
func NewRankScorer() *RankScorer {
	return &RankScorer{GroupShare: 0.5}
}

func (r *RankScorer) ComputeDistribution(votes []model.RankingVote, rankings []model.CommentRanking, rewardPool float64) (map[string]float64, error) {
	if !(rewardPool > 0) {
		return nil, errEmptyPool
	}

	groupPoints := make(map[string]float64)
	for _, v := range votes {
		var own string
		if v.VoterGroupID != nil {
			own = *v.VoterGroupID
		}
		borda(groupPoints, v.Rankings, own)
	}
	authorPoints := make(map[string]float64)
	for _, c := range rankings {
		borda(authorPoints, c.RankedAuthors, c.VoterEmail)
	}

	share := r.GroupShare
	if share < 0 || share > 1 || math.IsNaN(share) {
		share = 0.5
	}
	groupTotal, authorTotal := sum(groupPoints), sum(authorPoints)
	switch {
	case groupTotal == 0 && authorTotal == 0:
		return map[string]float64{}, nil
	case groupTotal == 0:
		share = 0
	case authorTotal == 0:
		share = 1
	}

	dist := make(map[string]float64, len(groupPoints)+len(authorPoints))
	allocate(dist, groupPoints, groupTotal, rewardPool*share)
	allocate(dist, authorPoints, authorTotal, rewardPool*(1-share))
	return dist, nil
}

// borda 同一排名内重复条目只计首次，exclude 为投票人自身
func borda(points map[string]float64, ranked []string, exclude string) {
	seen := make(map[string]bool, len(ranked))
	n := len(ranked)
	for i, id := range ranked {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		if exclude != "" && id == exclude {
			continue
		}
		points[id] += float64(n - i)
	}
}

func allocate(dist, points map[string]float64, total, pool float64) {
	if total == 0 || pool <= 0 {
		return
	}
	for id, p := range points {
		amount := math.Floor(pool*p/total*1e4) / 1e4
		if amount > 0 {
			dist[id] += amount
		}
	}
}

func sum(m map[string]float64) float64 {
	var t float64
	for _, v := range m {
		t += v
	}
	return t
}
