// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// perceptlinkNamespace 是当前项目所有 Prometheus 指标使用的命名空间。
	perceptlinkNamespace = "perceptlink"

	senderSubsystem   = "sender"
	listenerSubsystem = "listener"
	replaySubsystem   = "replay"

	// 以下为当前使用的通用标签名。
	endpointLabelName  = "endpoint"
	portLabelName      = "port"
	directionLabelName = "direction"
	stageLabelName     = "stage"

	DirectionSent     = "sent"
	DirectionReceived = "received"
)

var (
	// sizeBuckets 为帧大小的桶划分，单位为字节。
	// 实际桶分布为：[64 256 1024 4096 16384 65536 262144 1.048576e+06 4.194304e+06 1.6777216e+07]
	sizeBuckets = prometheus.ExponentialBuckets(64, 4, 10)

	SenderFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: perceptlinkNamespace,
			Subsystem: senderSubsystem,
			Name:      "frames_total",
			Help:      "number of frames moved by senders",
		}, []string{endpointLabelName, directionLabelName})

	SenderBytes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: perceptlinkNamespace,
			Subsystem: senderSubsystem,
			Name:      "bytes_total",
			Help:      "number of payload bytes moved by senders",
		}, []string{endpointLabelName, directionLabelName})

	SenderConnectFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: perceptlinkNamespace,
			Subsystem: senderSubsystem,
			Name:      "connect_failures_total",
			Help:      "number of failed connect attempts",
		}, []string{endpointLabelName})

	ListenerFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: perceptlinkNamespace,
			Subsystem: listenerSubsystem,
			Name:      "frames_total",
			Help:      "number of verified frames received per listening port",
		}, []string{portLabelName})

	ListenerFrameSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: perceptlinkNamespace,
			Subsystem: listenerSubsystem,
			Name:      "frame_size_bytes",
			Help:      "size of received frame payloads",
			Buckets:   sizeBuckets,
		}, []string{portLabelName})

	ListenerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: perceptlinkNamespace,
			Subsystem: listenerSubsystem,
			Name:      "errors_total",
			Help:      "number of listener errors by stage",
		}, []string{portLabelName, stageLabelName})

	ListenerConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: perceptlinkNamespace,
			Subsystem: listenerSubsystem,
			Name:      "connections",
			Help:      "number of open connections per listening port",
		}, []string{portLabelName})

	ReplayFrames = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: perceptlinkNamespace,
			Subsystem: replaySubsystem,
			Name:      "frames_total",
			Help:      "number of recorded frames re-sent per target port",
		}, []string{portLabelName})

	metricRegisterer prometheus.Registerer
	registerOnce     sync.Once
)

// PortLabel 将端口号格式化为标签值。
func PortLabel(port uint16) string {
	return strconv.FormatUint(uint64(port), 10)
}

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册当前定义的所有指标，重复调用只生效一次。
// 通常应在进程启动时调用。
func Register(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(SenderFrames)
		r.MustRegister(SenderBytes)
		r.MustRegister(SenderConnectFailures)
		r.MustRegister(ListenerFrames)
		r.MustRegister(ListenerFrameSize)
		r.MustRegister(ListenerErrors)
		r.MustRegister(ListenerConnections)
		r.MustRegister(ReplayFrames)
		metricRegisterer = r
	})
}
