// Package realtime 实时在线状态与消息扇出层
//
// Hub 负责 WebSocket 接入：来源地址限流、会话校验、连接登记与在线状态推导，
// 并在连接关闭（正常关闭、心跳超时、写失败）时执行同一条清理路径。
//
// 路由层通过 Publisher 推送事件：
//
//	hub, _ := realtime.NewHub(cfg,
//		realtime.WithLogger(log),
//		realtime.WithSessionResolver(resolver),
//		realtime.WithBackplane(bp),
//	)
//	hub.Start(ctx)
//	pub := realtime.NewPublisher(hub)
//	pub.NewMessage(ctx, []int64{recipient}, conversationID, message)
//
// 配置了 backplane 时，每次分发先投递本地连接，再异步复制给其他节点；
// 其他节点收到后只做本地投递。总线不可用时退化为单进程模式，调用方无感知。
package realtime
