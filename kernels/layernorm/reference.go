package layernorm

import (
	"math"

	"github.com/gomlx/exceptions"
)

// This file implements the float64 host reference the fusions are validated against.
// It is deliberately straightforward: plain loops over flat row-major slices.

// Statistics computes the per-row mean and inverse standard deviation of x, a flat
// row-major [batch, hidden] array.
func Statistics(x []float64, batch, hidden int, epsilon float64) (mean, invstd []float64) {
	if len(x) != batch*hidden {
		exceptions.Panicf("layernorm.Statistics: x has %d values, expected %d", len(x), batch*hidden)
	}
	mean = make([]float64, batch)
	invstd = make([]float64, batch)
	for row := range batch {
		values := x[row*hidden : (row+1)*hidden]
		var sum float64
		for _, v := range values {
			sum += v
		}
		mean[row] = sum / float64(hidden)
		var sumSquares float64
		for _, v := range values {
			diff := v - mean[row]
			sumSquares += diff * diff
		}
		variance := sumSquares / float64(hidden)
		invstd[row] = 1.0 / math.Sqrt(variance+epsilon)
	}
	return
}

// Forward computes the forward layer normalization in float64. All arrays are flat and
// row-major: x and y are [batch, hidden], weights and bias are [hidden].
func Forward(x, weights, bias []float64, batch, hidden int, epsilon float64) (y, mean, invstd []float64) {
	mean, invstd = Statistics(x, batch, hidden, epsilon)
	y = make([]float64, batch*hidden)
	for row := range batch {
		for col := range hidden {
			idx := row*hidden + col
			xhat := (x[idx] - mean[row]) * invstd[row]
			y[idx] = xhat*weights[col] + bias[col]
		}
	}
	return
}

// Backward computes the backward pass in float64. All arrays are flat and row-major:
// x, grad and gradInput are [batch, hidden], weights, gradWeight and gradBias are
// [hidden], mean and invstd are [batch].
func Backward(x, grad, mean, invstd, weights []float64, batch, hidden int) (gradInput, gradWeight, gradBias []float64) {
	if len(x) != batch*hidden || len(grad) != batch*hidden {
		exceptions.Panicf("layernorm.Backward: x and grad must have %d values, got %d and %d",
			batch*hidden, len(x), len(grad))
	}
	if len(mean) != batch || len(invstd) != batch || len(weights) != hidden {
		exceptions.Panicf("layernorm.Backward: mean, invstd and weights must have %d, %d and %d values, got %d, %d and %d",
			batch, batch, hidden, len(mean), len(invstd), len(weights))
	}
	gradInput = make([]float64, batch*hidden)
	gradWeight = make([]float64, hidden)
	gradBias = make([]float64, hidden)
	for row := range batch {
		var sumG, sumGXhat float64
		for col := range hidden {
			idx := row*hidden + col
			xhat := (x[idx] - mean[row]) * invstd[row]
			g := grad[idx] * weights[col]
			sumG += g
			sumGXhat += g * xhat
			gradWeight[col] += grad[idx] * xhat
			gradBias[col] += grad[idx]
		}
		for col := range hidden {
			idx := row*hidden + col
			xhat := (x[idx] - mean[row]) * invstd[row]
			g := grad[idx] * weights[col]
			gradInput[idx] = invstd[row] * (g - (sumG+xhat*sumGXhat)/float64(hidden))
		}
	}
	return
}
