package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RouteFields 提供 route/mount/mode 字段，供编译与渲染日志复用。
func RouteFields(route, mount, mode string) logrus.Fields {
	return logrus.Fields{
		"route": route,
		"mount": mount,
		"mode":  mode,
	}
}

// RequestFields 提供单次请求的基础字段。
func RequestFields(requestID, method, path string, status int) logrus.Fields {
	return logrus.Fields{
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"status":     status,
	}
}
