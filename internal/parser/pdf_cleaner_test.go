package parser

import (
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGaussianKernelNormalized(t *testing.T) {
	for _, size := range []int{3, 5, 11} {
		kernel := gaussianKernel(size)
		require.Len(t, kernel, size)

		sum := 0.0
		for _, v := range kernel {
			sum += v
		}
		assert.InDelta(t, 1.0, sum, 1e-9, "核必须归一化 (size=%d)", size)

		// 对称且中心权重最大
		center := size / 2
		for i := 0; i < center; i++ {
			assert.InDelta(t, kernel[i], kernel[size-1-i], 1e-12)
			assert.Less(t, kernel[i], kernel[center])
		}
	}
}

func TestGaussianKernelEvenSizeRoundsUp(t *testing.T) {
	kernel := gaussianKernel(4)
	assert.Len(t, kernel, 5)
}

func TestAdaptiveThresholdBinaryOutput(t *testing.T) {
	// 均匀灰底上画一块深色区域
	src := image.NewGray(image.Rect(0, 0, 40, 40))
	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			src.SetGray(x, y, color.Gray{Y: 180})
		}
	}
	for y := 15; y < 25; y++ {
		for x := 15; x < 25; x++ {
			src.SetGray(x, y, color.Gray{Y: 20})
		}
	}

	dst := adaptiveThreshold(src, 11, 2.0)

	for y := 0; y < 40; y++ {
		for x := 0; x < 40; x++ {
			v := dst.GrayAt(x, y).Y
			assert.True(t, v == 0 || v == 255, "输出必须是纯二值 (%d,%d)=%d", x, y, v)
		}
	}

	// 深色区域中心变黑，远离它的背景变白
	assert.Equal(t, uint8(0), dst.GrayAt(20, 20).Y)
	assert.Equal(t, uint8(255), dst.GrayAt(3, 3).Y)
}

func TestAdaptiveThresholdLiftsColoredBackground(t *testing.T) {
	// 模拟彩色底纹：中等灰度的均匀背景，没有更深的前景
	// 局部均值逼近像素本身，减去offset后像素高于阈值，整体抬白
	src := image.NewGray(image.Rect(0, 0, 30, 30))
	for y := 0; y < 30; y++ {
		for x := 0; x < 30; x++ {
			src.SetGray(x, y, color.Gray{Y: 128})
		}
	}

	dst := adaptiveThreshold(src, 11, 2.0)
	for y := 0; y < 30; y++ {
		for x := 0; x < 30; x++ {
			assert.Equal(t, uint8(255), dst.GrayAt(x, y).Y)
		}
	}
}

func TestToGrayPreservesBounds(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 8, 6))
	for y := 0; y < 6; y++ {
		for x := 0; x < 8; x++ {
			src.Set(x, y, color.RGBA{R: 200, G: 100, B: 50, A: 255})
		}
	}
	gray := toGray(src)
	assert.Equal(t, src.Bounds(), gray.Bounds())
}

func TestCleanRejectsInvalidPDF(t *testing.T) {
	cleaner := NewPDFCleaner()

	_, err := cleaner.Clean(context.Background(), []byte("this is not a pdf"))
	require.Error(t, err)
}

func TestCleanRejectsEmptyInput(t *testing.T) {
	cleaner := NewPDFCleaner()

	_, err := cleaner.Clean(context.Background(), nil)
	require.Error(t, err)
}
