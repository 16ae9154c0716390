package parser

import (
	"image"
	"image/color"
	"math"
)

// toGray 将任意图像转换为8位灰度图
func toGray(src image.Image) *image.Gray {
	bounds := src.Bounds()
	dst := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			dst.Set(x, y, color.GrayModel.Convert(src.At(x, y)))
		}
	}
	return dst
}

// gaussianKernel 生成归一化的一维高斯核
// sigma采用OpenCV getGaussianKernel在sigma<=0时的推导公式，
// 使得阈值结果与原型中cv2.adaptiveThreshold(GAUSSIAN_C)的行为一致
func gaussianKernel(size int) []float64 {
	if size < 1 {
		size = 1
	}
	if size%2 == 0 {
		size++
	}
	sigma := 0.3*(float64(size-1)*0.5-1) + 0.8

	kernel := make([]float64, size)
	center := size / 2
	sum := 0.0
	for i := 0; i < size; i++ {
		d := float64(i - center)
		kernel[i] = math.Exp(-(d * d) / (2 * sigma * sigma))
		sum += kernel[i]
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// blurGray 对灰度图做可分离的高斯模糊，边界按复制处理
func blurGray(src *image.Gray, kernel []float64) [][]float64 {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	radius := len(kernel) / 2

	clamp := func(v, lo, hi int) int {
		if v < lo {
			return lo
		}
		if v > hi {
			return hi
		}
		return v
	}

	// 水平方向
	tmp := make([][]float64, h)
	for y := 0; y < h; y++ {
		tmp[y] = make([]float64, w)
		for x := 0; x < w; x++ {
			acc := 0.0
			for k := -radius; k <= radius; k++ {
				sx := clamp(x+k, 0, w-1)
				acc += kernel[k+radius] * float64(src.GrayAt(bounds.Min.X+sx, bounds.Min.Y+y).Y)
			}
			tmp[y][x] = acc
		}
	}

	// 垂直方向
	out := make([][]float64, h)
	for y := 0; y < h; y++ {
		out[y] = make([]float64, w)
		for x := 0; x < w; x++ {
			acc := 0.0
			for k := -radius; k <= radius; k++ {
				sy := clamp(y+k, 0, h-1)
				acc += kernel[k+radius] * tmp[sy][x]
			}
			out[y][x] = acc
		}
	}
	return out
}

// adaptiveThreshold 自适应二值化：以局部高斯加权均值减去常量offset作为阈值，
// 高于阈值的像素置为白(255)，否则置为黑(0)
// 彩色背景被局部均值吸收后整体抬白，前景文字保留为黑，便于OCR分割
func adaptiveThreshold(src *image.Gray, blockSize int, offset float64) *image.Gray {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	kernel := gaussianKernel(blockSize)
	mean := blurGray(src, kernel)

	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float64(src.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			if v > mean[y][x]-offset {
				dst.SetGray(x, y, color.Gray{Y: 255})
			} else {
				dst.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return dst
}
