// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供网关服务的全局共享类型定义。

# 概述

types 是服务最底层的公共包，不依赖任何内部包，只承载跨包共享的错误
体系与请求上下文传播，避免循环依赖。

# 核心类型

  - Error / ErrorCode — 结构化错误体系，含 HTTP 状态码、Retryable、Provider 标记
  - Context 传播      — WithTenantID / WithUserID / WithRoles / WithTraceID 等

# 主要能力

  - 错误构造：NewError + WithCause / WithHTTPStatus / WithRetryable / WithProvider / WithDetails
  - 请求上下文：租户、用户、角色、trace ID 在 handler 与 gateway 包之间传递
*/
package types
