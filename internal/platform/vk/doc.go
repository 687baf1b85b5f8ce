// Package vk is a small VK API client covering the handful of methods the
// crossposter needs: wall posting, wall photo upload and post statistics.
package vk
