package service

import "fmt"

const DefaultSimulationTarget = 3.0

// SimulationStep 梯度下降轨迹中的一个点
type SimulationStep struct {
	Step      int     `json:"step"`
	X         float64 `json:"x"`
	Objective float64 `json:"objective"`
}

// RunSimulation 对固定目标函数 f(x) = (x-target)^2 做梯度下降演示。
// 纯函数、无随机性，相同输入产出逐位一致的轨迹。
// 返回 steps+1 个点：第 0 步为初始值，之后每次迭代一个点
func RunSimulation(steps int, learningRate, x0, target float64) ([]SimulationStep, error) {
	if steps <= 0 {
		return nil, fmt.Errorf("steps 必须为正，当前 %d: %w", steps, ErrInvalidArgument)
	}
	if learningRate <= 0 {
		return nil, fmt.Errorf("learning_rate 必须为正，当前 %v: %w", learningRate, ErrInvalidArgument)
	}

	objective := func(x float64) float64 {
		d := x - target
		return d * d
	}

	trajectory := make([]SimulationStep, 0, steps+1)
	x := x0
	trajectory = append(trajectory, SimulationStep{Step: 0, X: x, Objective: objective(x)})

	for n := 1; n <= steps; n++ {
		// f'(x) = 2*(x-target)
		x = x - learningRate*2*(x-target)
		trajectory = append(trajectory, SimulationStep{Step: n, X: x, Objective: objective(x)})
	}

	return trajectory, nil
}
